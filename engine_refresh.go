package authcore

import (
	"context"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/caremesh/authcore/jwt"
	"github.com/caremesh/authcore/session"
)

// Refresh rotates a refresh token: the presented token is retired, a
// new access/refresh pair is minted, and the session records the new
// token's digest. Presenting an already-rotated token is treated as
// theft and burns every session the principal holds.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(refreshToken, jwt.KindRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenExpired, nil)
			return nil, ErrTokenExpired
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenMalformed, nil)
		return nil, ErrTokenMalformed
	}

	revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if revoked {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, claims.SessionID, ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	}

	version, err := e.tokenVersion(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if claims.TokenVersion != version {
		// Stranded by logout-all, a password change or an escalation.
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, claims.SessionID, ErrTokenRevoked, func() map[string]string {
			return map[string]string{"reason": "stale_token_version"}
		})
		return nil, ErrTokenRevoked
	}

	now := time.Now()
	next := &session.Session{
		SessionID:    claims.SessionID,
		PrincipalID:  claims.Subject,
		Role:         claims.Role,
		TokenVersion: version,
	}
	pair, nextHash, err := e.issuePair(next, now)
	if err != nil {
		return nil, err
	}

	rotated, err := e.sessionStore.RotateRefreshHash(ctx, claims.SessionID, hashJTI(claims.ID), nextHash)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			// The one valid refresh token was already spent. Someone is
			// replaying a stolen token; kill everything.
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, claims.Subject, claims.SessionID, ErrRefreshReuse, nil)
			e.securityEvent(ctx, claims.Subject, claims.SessionID, "refresh_reuse")
			return nil, ErrRefreshReuse
		case errors.Is(err, session.ErrRotateSessionNotFound),
			errors.Is(err, session.ErrRotateSessionExpired):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, claims.SessionID, ErrSessionInvalid, nil)
			return nil, ErrSessionInvalid
		default:
			return nil, ErrBackendUnavailable
		}
	}

	// The spent token is not denylisted: the session's refresh digest
	// already rejects it, and a replay must reach the digest check so
	// reuse detection can escalate.
	csrfToken, err := e.csrfGuard.Issue(rotated.SessionID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricCSRFIssued)

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, rotated.PrincipalID, rotated.SessionID, nil, nil)

	return &LoginResult{
		PrincipalID: rotated.PrincipalID,
		Role:        rotated.Role,
		SessionID:   rotated.SessionID,
		Tokens:      pair,
		CSRFToken:   csrfToken,
	}, nil
}
