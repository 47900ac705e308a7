// Package lease keeps overlapping evaluation cycles from doing the same work.
// It is an optimisation only: the alert store's open-key constraint is what
// keeps alerts unique when two cycles do overlap.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lease not held")

// Lease is a mutually exclusive, expiring claim on the evaluation cycle.
type Lease interface {
	// Acquire returns a release function when the lease was obtained, or
	// ok=false when another holder has it.
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Noop always grants the lease. Used when Redis is disabled.
type Noop struct{}

func (Noop) Acquire(context.Context) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX and a compare-and-delete release.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, redisURL string, poolSize, maxRetries int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if maxRetries > 0 {
		opt.MaxRetries = maxRetries
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (l *RedisLease) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate lease token: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.key, token.String(), l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token.String()).Int64()
		if err != nil {
			return fmt.Errorf("failed to release lease %s: %w", l.key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
	return release, true, nil
}
