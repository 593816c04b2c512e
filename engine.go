package authcore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

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

// tokenVersionPrefix keys the per-principal version counter. Bumping it
// invalidates every outstanding token at once.
const tokenVersionPrefix = "av:"

// Engine is the authentication core. Construct it with a Builder; all
// methods are safe for concurrent use.
type Engine struct {
	config      Config
	redis       redis.UniversalClient
	credentials CredentialStore

	sessionStore   *session.Store
	rateLimiter    *rate.Limiter
	lockout        *limiters.LockoutLimiter
	totpLimiter    *limiters.TOTPLimiter
	backupLimiter  *limiters.BackupCodeLimiter
	captchaStore   *stores.CaptchaStore
	mfaLoginStore  *stores.MFALoginChallengeStore
	trustedDevices *stores.TrustedDeviceStore
	revocations    *stores.RevocationStore

	audit        *audit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Hasher
	jwtManager   *jwt.Manager
	csrfGuard    *csrf.Guard
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Ping probes the Redis backend. Transports use it for health checks.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.redis == nil {
		return ErrEngineNotReady
	}
	if err := e.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// AuditDropped reports events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// tokenVersion reads the principal's current version counter. A missing
// key means version 1.
func (e *Engine) tokenVersion(ctx context.Context, principalID string) (uint32, error) {
	v, err := e.redis.Get(ctx, tokenVersionPrefix+principalID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 1, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if v < 1 {
		return 1, nil
	}
	return uint32(v), nil
}

// bumpTokenVersion advances the principal's version counter, stranding
// every token minted under earlier versions.
func (e *Engine) bumpTokenVersion(ctx context.Context, principalID string) error {
	key := tokenVersionPrefix + principalID

	// The counter starts life lazily at 1; make sure the first bump
	// lands on 2 even when the key never existed.
	const script = `
local v = redis.call("INCR", KEYS[1])
if v == 1 then
  v = redis.call("INCR", KEYS[1])
end
return v
`
	if err := e.redis.Eval(ctx, script, []string{key}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (e *Engine) sessionLifetime() time.Duration {
	lifetime := e.config.Session.Lifetime
	if e.config.JWT.RefreshTTL > 0 && e.config.JWT.RefreshTTL < lifetime {
		return e.config.JWT.RefreshTTL
	}
	return lifetime
}

// securityEvent is the escalation path for suspicious activity: audit,
// count, revoke every session and strand outstanding tokens.
func (e *Engine) securityEvent(ctx context.Context, principalID, sessionID, kind string) {
	e.metricInc(MetricSecurityEvent)
	e.emitAudit(ctx, auditEventSuspiciousActivity, false, principalID, sessionID, nil, func() map[string]string {
		return map[string]string{"kind": kind}
	})

	if principalID == "" {
		return
	}
	if err := e.sessionStore.DeleteAllForPrincipal(ctx, principalID, ""); err != nil {
		e.emitAudit(ctx, auditEventSuspiciousActivity, false, principalID, sessionID, ErrBackendUnavailable, func() map[string]string {
			return map[string]string{"kind": kind, "stage": "invalidate_all"}
		})
	}
	if err := e.bumpTokenVersion(ctx, principalID); err != nil {
		e.emitAudit(ctx, auditEventSuspiciousActivity, false, principalID, sessionID, ErrBackendUnavailable, func() map[string]string {
			return map[string]string{"kind": kind, "stage": "version_bump"}
		})
	}
	e.metricInc(MetricSessionInvalidated)
}

// issuePair mints the access/refresh pair for a session and records the
// refresh jti hash the caller must install on the session.
func (e *Engine) issuePair(sess *session.Session, now time.Time) (TokenPair, [32]byte, error) {
	var zero [32]byte

	access, _, err := e.jwtManager.Issue(jwt.KindAccess, sess.PrincipalID, sess.Role, sess.SessionID, sess.TokenVersion, now)
	if err != nil {
		return TokenPair{}, zero, err
	}
	refresh, refreshJTI, err := e.jwtManager.Issue(jwt.KindRefresh, sess.PrincipalID, sess.Role, sess.SessionID, sess.TokenVersion, now)
	if err != nil {
		return TokenPair{}, zero, err
	}

	pair := TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(e.jwtManager.AccessTTL()),
		RefreshExpiresAt: now.Add(e.jwtManager.RefreshTTL()),
	}
	return pair, hashJTI(refreshJTI), nil
}

// hashJTI is the digest stored on the session for the one valid refresh
// token.
func hashJTI(jti string) [32]byte {
	return sha256.Sum256([]byte(jti))
}

// CSRFToken mints a fresh CSRF token for a session. Handlers rotate the
// token on every mutating request.
func (e *Engine) CSRFToken(sessionID string) (string, error) {
	if e == nil || e.csrfGuard == nil {
		return "", ErrEngineNotReady
	}
	token, err := e.csrfGuard.Issue(sessionID)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricCSRFIssued)
	return token, nil
}

// VerifyCSRF checks a CSRF token against the session it claims to
// protect.
func (e *Engine) VerifyCSRF(ctx context.Context, sessionID, token string) error {
	if e == nil || e.csrfGuard == nil {
		return ErrEngineNotReady
	}
	if err := e.csrfGuard.Verify(sessionID, token); err != nil {
		e.metricInc(MetricCSRFRejected)
		e.emitAudit(ctx, auditEventCSRFRejected, false, "", sessionID, ErrCSRFInvalid, nil)
		return fmt.Errorf("%w: %v", ErrCSRFInvalid, err)
	}
	return nil
}
