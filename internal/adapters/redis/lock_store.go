// Package redis provides Redis-based adapters for the soundloom system.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/soundloom/soundloom/internal/domain/lock"
)

// releaseScript deletes the key only when its value matches the caller's
// token, so an expired holder cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore is a Redis-backed lease store. The lock row exists while held and
// expires on its own after the TTL if the holder crashes without releasing.
type LockStore struct {
	client redis.UniversalClient
	prefix string
}

// NewLockStore creates a Redis-backed lock store.
func NewLockStore(client redis.UniversalClient) *LockStore {
	return &LockStore{
		client: client,
		prefix: "lock:",
	}
}

// NewLockStoreWithPrefix creates a Redis lock store with a custom key prefix.
func NewLockStoreWithPrefix(client redis.UniversalClient, prefix string) *LockStore {
	return &LockStore{
		client: client,
		prefix: prefix,
	}
}

// Acquire attempts to take the lease via SET NX with a TTL, which is atomic in
// Redis. Returns (nil, false, nil) when another holder already has the key.
func (s *LockStore) Acquire(
	ctx context.Context,
	key string,
	ttl time.Duration,
) (*lock.Lease, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis SET NX: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return lock.NewLease(key, token, ttl, s), true, nil
}

// Release releases the key if the stored token still matches.
// Returns true when this call removed the lock row.
func (s *LockStore) Release(ctx context.Context, key, token string) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}

	deleted, err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis release: %w", err)
	}

	return deleted > 0, nil
}

var _ lock.Locker = (*LockStore)(nil)
