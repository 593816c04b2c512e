package authcore

import (
	"crypto/rand"
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/caremesh/authcore/csrf"
	"github.com/caremesh/authcore/internal/audit"
	"github.com/caremesh/authcore/internal/limiters"
	"github.com/caremesh/authcore/internal/rate"
	"github.com/caremesh/authcore/internal/stores"
	"github.com/caremesh/authcore/jwt"
	"github.com/caremesh/authcore/password"
	"github.com/caremesh/authcore/session"
)

// Builder assembles an Engine. Redis and a CredentialStore are
// mandatory; the revocation database and audit sink are optional.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *sql.DB

	credentials CredentialStore
	auditSink   AuditSink

	built bool
}

// New creates a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing sessions, limiters and
// transient security records.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRevocationDB sets the SQLite handle for the durable revocation
// log and, when the audit sink is unset, the audit table.
func (b *Builder) WithRevocationDB(db *sql.DB) *Builder {
	b.db = db
	return b
}

// WithCredentialStore sets the application persistence boundary.
func (b *Builder) WithCredentialStore(cs CredentialStore) *Builder {
	b.credentials = cs
	return b
}

// WithAuditSink sets the audit destination. Without one, events go to
// the SQLite audit table when a revocation DB is configured, otherwise
// they are dropped.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate-latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build wires the Engine. A Builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}

	cfg := b.config

	// An ephemeral CSRF key only invalidates in-flight forms on
	// restart; deployments wanting continuity set one explicitly.
	if len(cfg.CSRF.Key) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		cfg.CSRF.Key = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		redis:       b.redis,
		credentials: b.credentials,
	}

	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.ActivityTouchEvery)

	if cfg.RateLimit.Enabled {
		engine.rateLimiter = rate.New(b.redis, cfg.RateLimit.policies())
	}
	engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Enabled:          cfg.Lockout.Enabled,
		CaptchaThreshold: cfg.Lockout.CaptchaThreshold,
		LockThreshold:    cfg.Lockout.LockThreshold,
		LockDuration:     cfg.Lockout.LockDuration,
		CounterWindow:    cfg.Lockout.CounterWindow,
	})
	engine.totpLimiter = limiters.NewTOTPLimiter(b.redis, limiters.TOTPLimiterConfig{
		MaxAttempts: cfg.TwoFactor.MaxAttempts,
	})
	engine.backupLimiter = limiters.NewBackupCodeLimiter(b.redis, limiters.BackupCodeConfig{
		MaxAttempts: cfg.TwoFactor.MaxAttempts,
		Cooldown:    cfg.TwoFactor.ChallengeTTL,
	})

	engine.captchaStore = stores.NewCaptchaStore(b.redis, "", cfg.Captcha.MaxAttempts)
	engine.mfaLoginStore = stores.NewMFALoginChallengeStore(b.redis, "")
	engine.trustedDevices = stores.NewTrustedDeviceStore(b.redis, "")

	revocations, err := stores.NewRevocationStore(b.redis, b.db, "")
	if err != nil {
		return nil, err
	}
	engine.revocations = revocations

	sink := b.auditSink
	if sink == nil && b.db != nil {
		sqliteSink, sinkErr := audit.NewSQLiteSink(b.db)
		if sinkErr != nil {
			return nil, sinkErr
		}
		sink = sqliteSink
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)
	engine.metrics = NewMetrics(cfg.Metrics)

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = hasher

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	guard, err := csrf.NewGuard(cfg.CSRF.Key, cfg.CSRF.MaxAge)
	if err != nil {
		return nil, err
	}
	engine.csrfGuard = guard

	b.built = true

	return engine, nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
