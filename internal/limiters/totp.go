package limiters

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTOTPMaxAttempts = 5
	defaultTOTPCooldown    = time.Minute
)

var (
	ErrTOTPRateLimited = errors.New("totp rate limited")
	ErrTOTPUnavailable = errors.New("totp unavailable")
)

// TOTPLimiterConfig tunes the per-principal TOTP attempt budget.
type TOTPLimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// TOTPLimiter bounds failed TOTP verifications so codes cannot be
// brute-forced inside their validity window.
type TOTPLimiter struct {
	attemptCounter
}

// NewTOTPLimiter creates the limiter. Zero-value fields fall back to
// 5 attempts / 60s.
func NewTOTPLimiter(redisClient redis.UniversalClient, cfg TOTPLimiterConfig) *TOTPLimiter {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultTOTPMaxAttempts
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultTOTPCooldown
	}
	return &TOTPLimiter{attemptCounter{
		redis:      redisClient,
		prefix:     "att:",
		max:        int64(maxAttempts),
		cooldown:   cooldown,
		errLimited: ErrTOTPRateLimited,
		errBackend: ErrTOTPUnavailable,
	}}
}
