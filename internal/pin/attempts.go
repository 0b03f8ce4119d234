package pin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const attemptKeyPrefix = "pin:fail:"

// RedisAttempts stores consecutive failure counters in Redis so lockout state
// survives restarts and is shared across instances. Counters expire after ttl,
// which doubles as the lockout duration.
type RedisAttempts struct {
	cache *redis.Client
	ttl   time.Duration
}

// NewRedisAttempts builds a Redis-backed attempt store.
func NewRedisAttempts(cache *redis.Client, ttl time.Duration) *RedisAttempts {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisAttempts{cache: cache, ttl: ttl}
}

func attemptKey(accountID uuid.UUID) string {
	return attemptKeyPrefix + accountID.String()
}

func (r *RedisAttempts) Fail(ctx context.Context, accountID uuid.UUID) (int64, error) {
	key := attemptKey(accountID)
	count, err := r.cache.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		r.cache.Expire(ctx, key, r.ttl)
	}
	return count, nil
}

func (r *RedisAttempts) Count(ctx context.Context, accountID uuid.UUID) (int64, error) {
	count, err := r.cache.Get(ctx, attemptKey(accountID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *RedisAttempts) Reset(ctx context.Context, accountID uuid.UUID) error {
	return r.cache.Del(ctx, attemptKey(accountID)).Err()
}

type memoryAttempts struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int64
}

// NewMemoryAttempts constructs an in-process attempt store for tests and
// single-node deployments without Redis.
func NewMemoryAttempts() AttemptStore {
	return &memoryAttempts{counts: make(map[uuid.UUID]int64)}
}

func (m *memoryAttempts) Fail(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[accountID]++
	return m.counts[accountID], nil
}

func (m *memoryAttempts) Count(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[accountID], nil
}

func (m *memoryAttempts) Reset(_ context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, accountID)
	return nil
}
