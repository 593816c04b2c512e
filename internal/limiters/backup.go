package limiters

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrBackupCodeRateLimited = errors.New("backup code rate limited")
	ErrBackupCodeUnavailable = errors.New("backup code unavailable")
)

// BackupCodeConfig tunes the per-principal backup-code attempt budget.
type BackupCodeConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// BackupCodeLimiter bounds failed backup-code attempts. Codes are
// high-entropy but single-use, so the budget is deliberately tight.
type BackupCodeLimiter struct {
	attemptCounter
}

func NewBackupCodeLimiter(redisClient redis.UniversalClient, cfg BackupCodeConfig) *BackupCodeLimiter {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultTOTPMaxAttempts
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultTOTPCooldown
	}
	return &BackupCodeLimiter{attemptCounter{
		redis:      redisClient,
		prefix:     "abk:",
		max:        int64(maxAttempts),
		cooldown:   cooldown,
		errLimited: ErrBackupCodeRateLimited,
		errBackend: ErrBackupCodeUnavailable,
	}}
}
