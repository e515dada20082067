// Package sharedstore generalizes the Redis-or-local-memory choice that the
// teacher's middleware/sender_rate_limit.go made ad hoc for one endpoint
// (createRateLimitStorage) into a small interface every shared-counter
// consumer (C5 rate limiter, C6 lock-out, C10 token cache) can depend on.
// Per design note "Single-process rate-limit fallback", the fallback is a
// named, explicit implementation rather than a silent degrade.
package sharedstore

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store is the shared-counter/cache contract. Incr increments key and sets
// an expiry only on the increment that creates the key, mirroring Redis's
// INCR+EXPIRE idiom for a sliding-minute counter.
type Store interface {
	Incr(ctx context.Context, key string, expire time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisStore is the preferred backend: counters are shared across process
// instances, as C5/C6/C10 require for correctness under multi-instance
// deployment.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (r *RedisStore) Incr(ctx context.Context, key string, expire time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, expire).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemoryStore is the strictly per-process fallback used when no shared
// store is configured or reachable. Operators accept that multi-process
// deployments overshoot limits by a factor equal to process count while it
// is in effect, per spec §4.5.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	value   string
	count   int64
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Incr(_ context.Context, key string, expire time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expires) {
		e = &memoryEntry{expires: now.Add(expire)}
		m.entries[key] = e
	}
	e.count++
	return e.count, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &memoryEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}
