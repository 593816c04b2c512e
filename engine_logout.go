package authcore

import (
	"context"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/caremesh/authcore/jwt"
)

// Logout ends the session behind an access token and denylists the
// token for its remaining validity. An expired token still logs the
// session out.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(accessToken, jwt.KindAccess)
	if err != nil {
		if !errors.Is(err, jwtlib.ErrTokenExpired) {
			return ErrTokenMalformed
		}
		claims, err = e.jwtManager.ParseAllowExpired(accessToken, jwt.KindAccess)
		if err != nil {
			return ErrTokenMalformed
		}
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.After(time.Now()) {
		if err := e.revocations.Revoke(ctx, claims.ID, claims.Subject, "logout", claims.ExpiresAt.Time); err != nil {
			return ErrBackendUnavailable
		}
		e.metricInc(MetricTokenRevoked)
	}

	if err := e.sessionStore.Delete(ctx, claims.SessionID); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.Subject, claims.SessionID, nil, nil)
	return nil
}

// LogoutAll ends every session the principal holds and strands all
// outstanding tokens through a version bump.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}

	if err := e.sessionStore.DeleteAllForPrincipal(ctx, principalID, ""); err != nil {
		return ErrBackendUnavailable
	}
	if err := e.bumpTokenVersion(ctx, principalID); err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogoutAll, true, principalID, "", nil, nil)
	return nil
}

// RevokeToken denylists a single token by jti until expiresAt.
func (e *Engine) RevokeToken(ctx context.Context, jti, principalID, reason string, expiresAt time.Time) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	if err := e.revocations.Revoke(ctx, jti, principalID, reason, expiresAt); err != nil {
		return ErrBackendUnavailable
	}
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return nil
}

// PruneRevocations drops durable revocation rows whose tokens expired
// before the cutoff. Background jobs call this on a schedule.
func (e *Engine) PruneRevocations(ctx context.Context, before time.Time) (int64, error) {
	if e == nil || e.revocations == nil {
		return 0, ErrEngineNotReady
	}
	return e.revocations.Prune(ctx, before)
}
