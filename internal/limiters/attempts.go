package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptCounter is the shared failed-attempt budget behind the TOTP
// and backup-code limiters: a per-principal INCR with a cooldown TTL
// set on first failure.
type attemptCounter struct {
	redis      redis.UniversalClient
	prefix     string
	max        int64
	cooldown   time.Duration
	errLimited error
	errBackend error
}

func (l *attemptCounter) key(principalID string) string {
	return l.prefix + principalID
}

// Check reports whether the principal still has attempts left. A
// missing counter means a clean slate.
func (l *attemptCounter) Check(ctx context.Context, principalID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", l.errBackend, err)
	}
	if count >= l.max {
		return l.errLimited
	}
	return nil
}

// RecordFailure burns one attempt. The first failure arms the cooldown
// TTL so the counter forgets itself.
func (l *attemptCounter) RecordFailure(ctx context.Context, principalID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(principalID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", l.errBackend, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(principalID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", l.errBackend, err)
		}
	}
	if count >= l.max {
		return l.errLimited
	}
	return nil
}

// Reset clears the counter after a successful verification.
func (l *attemptCounter) Reset(ctx context.Context, principalID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", l.errBackend, err)
	}
	return nil
}
