package authcore

import (
	"errors"
	"time"

	"github.com/caremesh/authcore/internal/rate"
)

// Config is the full engine configuration tree. Zero values are filled
// from DefaultConfig by the Builder; Validate rejects combinations that
// would weaken the security posture.
type Config struct {
	JWT         JWTConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Lockout     LockoutConfig
	Captcha     CaptchaConfig
	TwoFactor   TwoFactorConfig
	DeviceTrust DeviceTrustConfig
	Password    PasswordConfig
	CSRF        CSRFConfig
	Register    RegisterConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// JWTConfig controls token issuance.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig controls the Redis session registry.
type SessionConfig struct {
	RedisPrefix        string
	Lifetime           time.Duration
	MaxPerPrincipal    int
	ActivityTouchEvery time.Duration
}

// RateLimitPolicy is the fixed-window budget for one action.
type RateLimitPolicy struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// RateLimitConfig holds per-action request budgets.
type RateLimitConfig struct {
	Enabled       bool
	Login         RateLimitPolicy
	Register      RateLimitPolicy
	PasswordReset RateLimitPolicy
	API           RateLimitPolicy
}

// LockoutConfig is the escalating failed-login policy.
type LockoutConfig struct {
	Enabled          bool
	CaptchaThreshold int
	LockThreshold    int
	LockDuration     time.Duration
	CounterWindow    time.Duration
}

// CaptchaConfig controls captcha challenges.
type CaptchaConfig struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
}

// TwoFactorConfig controls TOTP and backup codes.
type TwoFactorConfig struct {
	Issuer          string
	Skew            uint // accepted steps either side of now
	ChallengeTTL    time.Duration
	MaxAttempts     int
	BackupCodeCount int
}

// DeviceTrustConfig controls remembered devices.
type DeviceTrustConfig struct {
	Enabled       bool
	TrustDuration time.Duration
}

// PasswordConfig tunes argon2id hashing.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// CSRFConfig controls the stateless CSRF guard.
type CSRFConfig struct {
	Key    []byte
	MaxAge time.Duration
}

// RegisterConfig controls self-service registration.
type RegisterConfig struct {
	Enabled      bool
	AllowedRoles []string
	DefaultRole  string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the hardened defaults: 15 minute access tokens,
// 7 day refresh tokens, captcha after 3 failed logins and a 15 minute
// hard lock after 5, five concurrent sessions per principal.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:        "sess",
			Lifetime:           7 * 24 * time.Hour,
			MaxPerPrincipal:    5,
			ActivityTouchEvery: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Login:         RateLimitPolicy{Window: time.Minute, MaxRequests: 10, BlockDuration: 5 * time.Minute},
			Register:      RateLimitPolicy{Window: time.Hour, MaxRequests: 5, BlockDuration: time.Hour},
			PasswordReset: RateLimitPolicy{Window: time.Hour, MaxRequests: 5, BlockDuration: time.Hour},
			API:           RateLimitPolicy{Window: time.Minute, MaxRequests: 120, BlockDuration: time.Minute},
		},
		Lockout: LockoutConfig{
			Enabled:          true,
			CaptchaThreshold: 3,
			LockThreshold:    5,
			LockDuration:     15 * time.Minute,
			CounterWindow:    time.Hour,
		},
		Captcha: CaptchaConfig{
			Length:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:          "caremesh",
			Skew:            1,
			ChallengeTTL:    5 * time.Minute,
			MaxAttempts:     5,
			BackupCodeCount: 10,
		},
		DeviceTrust: DeviceTrustConfig{
			Enabled:       true,
			TrustDuration: 30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			UpgradeOnLogin: true,
		},
		CSRF: CSRFConfig{
			MaxAge: time.Hour,
		},
		Register: RegisterConfig{
			Enabled:      true,
			AllowedRoles: []string{"patient", "clinician", "admin"},
			DefaultRole:  "patient",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate rejects configurations that would weaken guarantees.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt ttls must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("access ttl must be shorter than refresh ttl")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("jwt private key required")
	}
	if c.Session.Lifetime < c.JWT.RefreshTTL {
		return errors.New("session lifetime must cover refresh ttl")
	}
	if c.Session.MaxPerPrincipal <= 0 {
		return errors.New("session cap must be positive")
	}
	if c.Lockout.Enabled {
		if c.Lockout.CaptchaThreshold <= 0 || c.Lockout.LockThreshold <= c.Lockout.CaptchaThreshold {
			return errors.New("lock threshold must exceed captcha threshold")
		}
		if c.Lockout.LockDuration <= 0 {
			return errors.New("lock duration must be positive")
		}
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("totp skew above 2 steps defeats the point of totp")
	}
	if len(c.CSRF.Key) > 0 && len(c.CSRF.Key) < 32 {
		return errors.New("csrf key must be at least 32 bytes")
	}
	if c.Register.Enabled {
		if len(c.Register.AllowedRoles) == 0 {
			return errors.New("registration requires at least one allowed role")
		}
	}
	return nil
}

func (c *RateLimitConfig) policies() map[rate.Action]rate.Policy {
	return map[rate.Action]rate.Policy{
		rate.ActionLogin:         {Window: c.Login.Window, MaxRequests: c.Login.MaxRequests, BlockDuration: c.Login.BlockDuration},
		rate.ActionRegister:      {Window: c.Register.Window, MaxRequests: c.Register.MaxRequests, BlockDuration: c.Register.BlockDuration},
		rate.ActionPasswordReset: {Window: c.PasswordReset.Window, MaxRequests: c.PasswordReset.MaxRequests, BlockDuration: c.PasswordReset.BlockDuration},
		rate.ActionAPI:           {Window: c.API.Window, MaxRequests: c.API.MaxRequests, BlockDuration: c.API.BlockDuration},
	}
}
