package evaluator

// summaryBuilder merges the metadata of the aggregates behind a match.
// Object values sum their numeric inner counts per inner key; every other
// value is collected into a de-duplicated list in first-seen order.
type summaryBuilder struct {
	counts map[string]map[string]any
	values map[string][]any
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{
		counts: make(map[string]map[string]any),
		values: make(map[string][]any),
	}
}

func (b *summaryBuilder) Add(metadata map[string]any) {
	for key, value := range metadata {
		if _, seen := b.values[key]; !seen {
			b.values[key] = nil
		}
		switch v := value.(type) {
		case map[string]any:
			b.mergeCounts(key, v)
		case []any:
			for _, item := range v {
				b.values[key] = appendUnique(b.values[key], item)
			}
		default:
			b.values[key] = appendUnique(b.values[key], v)
		}
	}
}

func (b *summaryBuilder) mergeCounts(key string, m map[string]any) {
	dst, ok := b.counts[key]
	if !ok {
		dst = make(map[string]any)
		b.counts[key] = dst
	}
	for innerKey, v := range m {
		current, exists := dst[innerKey]
		if !exists {
			if f, ok := toFloat(v); ok {
				dst[innerKey] = f
			} else {
				dst[innerKey] = []any{v}
			}
			continue
		}

		sum, currentNumeric := current.(float64)
		f, numeric := toFloat(v)
		switch {
		case currentNumeric && numeric:
			dst[innerKey] = sum + f
		case currentNumeric:
			dst[innerKey] = appendUnique([]any{sum}, v)
		default:
			dst[innerKey] = appendUnique(current.([]any), v)
		}
	}
}

// Build returns the merged summary. A key seen both as an object and as
// plain values keeps the object form, with the plain values under "_values".
func (b *summaryBuilder) Build() map[string]any {
	out := make(map[string]any, len(b.values))
	for key, values := range b.values {
		counts, hasCounts := b.counts[key]
		switch {
		case hasCounts && len(values) > 0:
			merged := make(map[string]any, len(counts)+1)
			for k, v := range counts {
				merged[k] = v
			}
			merged["_values"] = values
			out[key] = merged
		case hasCounts:
			out[key] = counts
		default:
			if values == nil {
				values = []any{}
			}
			out[key] = values
		}
	}
	return out
}

func appendUnique(list []any, v any) []any {
	for _, existing := range list {
		if valuesEqual(existing, v) {
			return list
		}
	}
	return append(list, v)
}
