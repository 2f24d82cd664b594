// Package idlock serializes certificate runs that share a patient identifier.
package idlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ddcc:idlock:"

// ErrNotAcquired is returned when the lock stays held by another run past
// the wait budget.
var ErrNotAcquired = errors.New("identity lock not acquired")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker guards the resolve-to-commit window of a run.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Noop never blocks. Concurrent runs for the same identifier may both miss
// the existing records and create duplicates.
type Noop struct{}

func (Noop) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a SETNX lease lock shared by every mediator instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// RedisOption configures a Redis lock.
type RedisOption func(*Redis)

// WithWait bounds how long Lock waits for a held key.
func WithWait(d time.Duration) RedisOption {
	return func(r *Redis) { r.wait = d }
}

// NewRedis creates a lock whose leases expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{client: client, ttl: ttl, wait: ttl, retry: 50 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Dial connects to the Redis server at url and checks it answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	k := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire identity lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, r.client, []string{k}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}
}
