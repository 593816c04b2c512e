package authcore

import (
	"context"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/caremesh/authcore/jwt"
)

// ValidateAccess checks an access token end to end: signature and
// claims, revocation denylist, token version, and the live session
// behind it. This is the per-request hot path.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	result, err := e.validateAccess(ctx, accessToken)
	if e.metrics != nil {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}
	e.metricInc(MetricValidateSuccess)
	return result, nil
}

func (e *Engine) validateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	claims, err := e.jwtManager.Parse(accessToken, jwt.KindAccess)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	version, err := e.tokenVersion(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if claims.TokenVersion != version {
		return nil, ErrTokenRevoked
	}

	sess, err := e.sessionStore.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionInvalid
		}
		return nil, ErrBackendUnavailable
	}
	if sess.PrincipalID != claims.Subject || sess.TokenVersion != claims.TokenVersion {
		return nil, ErrSessionInvalid
	}

	return &AuthResult{
		PrincipalID:  claims.Subject,
		Role:         claims.Role,
		SessionID:    claims.SessionID,
		TokenVersion: claims.TokenVersion,
	}, nil
}

// ValidateWithCSRF validates the access token and then the CSRF token
// bound to its session. Transports call this on mutating requests.
func (e *Engine) ValidateWithCSRF(ctx context.Context, accessToken, csrfToken string) (*AuthResult, error) {
	result, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if err := e.VerifyCSRF(ctx, result.SessionID, csrfToken); err != nil {
		return nil, err
	}
	return result, nil
}
