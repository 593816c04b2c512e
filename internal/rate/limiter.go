package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Action names a rate-limited operation. Each action carries its own
// window policy.
type Action string

const (
	ActionLogin         Action = "login"
	ActionRegister      Action = "register"
	ActionPasswordReset Action = "password_reset"
	ActionAPI           Action = "api"
)

// Policy is the fixed-window budget for one action.
type Policy struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// Decision reports the outcome of a limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces per-scope fixed-window limits in Redis. A scope is
// whatever identity the caller wants budgeted: an IP, a principal ID,
// or a compound of both.
type Limiter struct {
	redis    redis.UniversalClient
	policies map[Action]Policy
}

// New creates a Limiter with the given per-action policies.
func New(redisClient redis.UniversalClient, policies map[Action]Policy) *Limiter {
	return &Limiter{
		redis:    redisClient,
		policies: policies,
	}
}

func counterKey(action Action, scope string) string {
	return "rl:" + string(action) + ":" + scope
}

func blockKey(action Action, scope string) string {
	return "rlb:" + string(action) + ":" + scope
}

// Allow consumes one unit of the scope's budget for the action. When
// the budget is exhausted the scope is blocked for the policy's block
// duration and ErrRateLimited is returned alongside the decision; the
// decision's ResetAt tells callers what to put in Retry-After.
func (l *Limiter) Allow(ctx context.Context, action Action, scope string) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	blocked, resetAt, err := l.blockedUntil(ctx, action, scope)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, ErrRateLimited
	}

	count, err := l.incrementWithTTL(ctx, counterKey(action, scope), policy.Window)
	if err != nil {
		return Decision{}, err
	}

	if count > int64(policy.MaxRequests) {
		resetAt := time.Now().Add(policy.BlockDuration)
		if err := l.redis.Set(ctx, blockKey(action, scope), 1, policy.BlockDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, ErrRateLimited
	}

	remaining := policy.MaxRequests - int(count)
	pttl, err := l.redis.PTTL(ctx, counterKey(action, scope)).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: time.Now().Add(pttl)}, nil
}

// AllowAll consumes budget for every scope in order and fails on the
// first scope that is over budget. Used to enforce the union of IP and
// principal scopes on login.
func (l *Limiter) AllowAll(ctx context.Context, action Action, scopes ...string) (Decision, error) {
	var last Decision
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		d, err := l.Allow(ctx, action, scope)
		if err != nil {
			return d, err
		}
		last = d
	}
	if last == (Decision{}) {
		last.Allowed = true
	}
	return last, nil
}

// Reset clears the window counter and block flag for a scope.
func (l *Limiter) Reset(ctx context.Context, action Action, scope string) error {
	if err := l.redis.Del(ctx, counterKey(action, scope), blockKey(action, scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current window counter for a scope. Missing keys
// return zero and do not reveal account existence.
func (l *Limiter) Attempts(ctx context.Context, action Action, scope string) (int, error) {
	count, err := l.redis.Get(ctx, counterKey(action, scope)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) blockedUntil(ctx context.Context, action Action, scope string) (bool, time.Time, error) {
	pttl, err := l.redis.PTTL(ctx, blockKey(action, scope)).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return false, time.Time{}, nil
	}
	return true, time.Now().Add(pttl), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
