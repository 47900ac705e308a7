package evaluator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// errorCodesKey holds a mapping of error code to count in aggregate metadata.
const errorCodesKey = "error_codes"

// MatchesFilters reports whether an aggregate's metadata passes every filter
// entry. Nil or empty filters accept every row.
func MatchesFilters(metadata, filters map[string]any) bool {
	for key, want := range filters {
		if !matchFilter(metadata, key, want) {
			return false
		}
	}
	return true
}

func matchFilter(metadata map[string]any, key string, want any) bool {
	got, ok := metadata[key]
	if !ok {
		return false
	}

	if key == errorCodesKey {
		codes, ok := got.(map[string]any)
		if !ok {
			return false
		}
		_, present := codes[keyString(want)]
		return present
	}

	switch v := got.(type) {
	case map[string]any:
		if _, present := v[keyString(want)]; present {
			return true
		}
		for _, inner := range v {
			if valuesEqual(inner, want) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if valuesEqual(item, want) {
				return true
			}
		}
		return false
	default:
		return valuesEqual(got, want)
	}
}

// keyString renders a filter value the way it would appear as a JSON object key.
func keyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// toFloat converts the numeric types produced by JSON decoding and by Go
// callers to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
