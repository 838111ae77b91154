package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("session key not found")

// ErrStoreUnavailable wraps any I/O failure talking to the backing store.
var ErrStoreUnavailable = errors.New("session store unavailable")

// KV is the capability set the token lifecycle needs from an external
// key-value store. Only read-your-writes on a single key is assumed;
// CompareAndSwap is the one atomic primitive and guards rotation.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	CompareAndSwap(ctx context.Context, key, old, next string) (bool, error)
}

const (
	casStatusMissing  int64 = -1
	casStatusMismatch int64 = 0
	casStatusSwapped  int64 = 1
)

const compareAndSwapScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`

var compareAndSwapLua = redis.NewScript(compareAndSwapScript)

// Store is a Redis-backed KV.
type Store struct {
	redis redis.UniversalClient
}

var _ KV = (*Store)(nil)

// NewStore creates a [Store] over the given Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

// Get returns the value at key or ErrNotFound.
//
//	Performance: 1 Redis GET.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, nil
}

// Set writes value at key without expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.redis.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SetWithTTL writes value at key with a millisecond-precision expiry.
// Non-positive TTLs are rejected rather than stored without expiry.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s", ttl)
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// CompareAndSwap replaces the value at key with next only if it currently
// equals old. It returns ErrNotFound when key is absent and false when the
// value has changed underneath the caller.
//
//	Performance: 1 Redis EVALSHA.
func (s *Store) CompareAndSwap(ctx context.Context, key, old, next string) (bool, error) {
	status, err := compareAndSwapLua.Run(ctx, s.redis, []string{key}, old, next).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch status {
	case casStatusSwapped:
		return true, nil
	case casStatusMismatch:
		return false, nil
	case casStatusMissing:
		return false, ErrNotFound
	default:
		return false, fmt.Errorf("%w: unexpected compare-and-swap status %d", ErrStoreUnavailable, status)
	}
}

// TTL returns the remaining lifetime of key, or ErrNotFound. A negative
// duration means the key has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// go-redis reports the raw -2/-1 sentinels unscaled.
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}
