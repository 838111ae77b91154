package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config tunes a Limiter.
type Config struct {
	// MaxAttempts failures are allowed per window; the next check fails.
	MaxAttempts int
	Window      time.Duration
	// PerAddress also counts failures per client address, across subjects.
	PerAddress bool
}

// Limiter counts failed attempts in fixed windows stored in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New returns a Limiter whose keys start with prefix.
func New(client redis.UniversalClient, prefix string, cfg Config) *Limiter {
	return &Limiter{redis: client, prefix: prefix, config: cfg}
}

// Check returns ErrRateLimited once subject, or addr when per-address
// counting is on, has used up its failures for the current window.
func (l *Limiter) Check(ctx context.Context, scope, subject, addr string) error {
	for _, key := range l.keys(scope, subject, addr) {
		count, err := l.redis.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count >= int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Fail records one failed attempt.
func (l *Limiter) Fail(ctx context.Context, scope, subject, addr string) error {
	for _, key := range l.keys(scope, subject, addr) {
		if _, err := l.incrementWithTTL(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the subject counter after a success. The address counter is
// left to expire so one good account cannot unlock an address.
func (l *Limiter) Reset(ctx context.Context, scope, subject string) error {
	if err := l.redis.Del(ctx, l.subjectKey(scope, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Attempts returns the failures recorded for subject in the current window.
func (l *Limiter) Attempts(ctx context.Context, scope, subject string) (int, error) {
	count, err := l.redis.Get(ctx, l.subjectKey(scope, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(max(count, 0)), nil
}

func (l *Limiter) keys(scope, subject, addr string) []string {
	keys := []string{l.subjectKey(scope, subject)}
	if l.config.PerAddress && addr != "" {
		keys = append(keys, l.prefix+scope+":a:"+addr)
	}
	return keys
}

func (l *Limiter) subjectKey(scope, subject string) string {
	return l.prefix + scope + ":s:" + subject
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// The window starts at the first failure.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return count, nil
}
