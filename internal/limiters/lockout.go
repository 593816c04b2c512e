package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds the escalating failed-login policy. Failures below
// CaptchaThreshold pass silently, failures at or above it require a
// captcha, and LockThreshold triggers a hard lock for LockDuration.
type LockoutConfig struct {
	Enabled          bool
	CaptchaThreshold int
	LockThreshold    int
	LockDuration     time.Duration
	CounterWindow    time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutStatus is a point-in-time view of a principal's failure state.
type LockoutStatus struct {
	Failures        int
	CaptchaRequired bool
	Locked          bool
	LockedUntil     time.Time
}

// LockoutLimiter tracks persistent failed login attempts per principal
// and escalates to captcha and then a timed hard lock.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) counterKey(principalID string) string {
	return "alo:" + principalID
}

func (l *LockoutLimiter) lockKey(principalID string) string {
	return "alk:" + principalID
}

// RecordFailure increments the failure counter and installs the hard
// lock when the threshold is reached. Returns the post-increment status.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, principalID string) (LockoutStatus, error) {
	if l == nil || !l.config.Enabled || principalID == "" {
		return LockoutStatus{}, nil
	}

	count, err := l.redis.Incr(ctx, l.counterKey(principalID)).Result()
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && l.config.CounterWindow > 0 {
		// Rolling window: the counter self-resets when failures stop.
		if err := l.redis.Expire(ctx, l.counterKey(principalID), l.config.CounterWindow).Err(); err != nil {
			return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	status := LockoutStatus{
		Failures:        int(count),
		CaptchaRequired: int(count) >= l.config.CaptchaThreshold,
	}

	if int(count) >= l.config.LockThreshold {
		until := time.Now().Add(l.config.LockDuration)
		if err := l.redis.Set(ctx, l.lockKey(principalID), until.Unix(), l.config.LockDuration).Err(); err != nil {
			return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		status.Locked = true
		status.LockedUntil = until
	}

	return status, nil
}

// Status reports the current failure state without mutating it.
func (l *LockoutLimiter) Status(ctx context.Context, principalID string) (LockoutStatus, error) {
	if l == nil || !l.config.Enabled || principalID == "" {
		return LockoutStatus{}, nil
	}

	count, err := l.redis.Get(ctx, l.counterKey(principalID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	status := LockoutStatus{
		Failures:        int(count),
		CaptchaRequired: int(count) >= l.config.CaptchaThreshold,
	}

	pttl, err := l.redis.PTTL(ctx, l.lockKey(principalID)).Result()
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if pttl > 0 {
		status.Locked = true
		status.LockedUntil = time.Now().Add(pttl)
	}

	return status, nil
}

// Reset clears the failure counter and the hard lock, e.g. after a
// successful login or a manual unlock.
func (l *LockoutLimiter) Reset(ctx context.Context, principalID string) error {
	if l == nil || !l.config.Enabled || principalID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.counterKey(principalID), l.lockKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
