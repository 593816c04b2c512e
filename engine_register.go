package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/caremesh/authcore/internal/rate"
)

// RegisterRequest carries one self-service registration attempt. Role
// defaults to the configured default when empty.
type RegisterRequest struct {
	Identifier string
	Password   string
	Role       string
}

// Register creates a principal with a hashed password. It enforces the
// role allowlist and the minimum password length before touching the
// credential store.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if e == nil || e.credentials == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Register.Enabled {
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if e.rateLimiter != nil && ip != "" {
		decision, err := e.rateLimiter.Allow(ctx, rate.ActionRegister, "ip:"+ip)
		if err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricRegisterRateLimited)
				e.emitAudit(ctx, auditEventRegisterRateLimited, false, "", "", ErrRateLimited, nil)
				e.emitRateLimit(ctx, "register", nil)
				return nil, &RateLimitedError{ResetAt: decision.ResetAt}
			}
			return nil, ErrBackendUnavailable
		}
	}

	identifier := strings.TrimSpace(strings.ToLower(req.Identifier))
	if identifier == "" {
		return nil, ErrInvalidCredentials
	}

	role := req.Role
	if role == "" {
		role = e.config.Register.DefaultRole
	}
	if !e.roleAllowed(role) {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrRoleInvalid, func() map[string]string {
			return map[string]string{"role": role}
		})
		return nil, ErrRoleInvalid
	}

	if len(req.Password) < e.config.Password.MinLength {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, nil)
		return nil, ErrPasswordPolicy
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	req.Password = ""

	principal := &Principal{
		PrincipalID:  uuid.NewString(),
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         role,
		Status:       AccountActive,
	}

	if err := e.credentials.CreatePrincipal(ctx, principal); err != nil {
		if errors.Is(err, ErrPrincipalExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPrincipalExists, nil)
			return nil, ErrPrincipalExists
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, principal.PrincipalID, "", nil, func() map[string]string {
		return map[string]string{"role": role}
	})

	return principal, nil
}

// ChangePassword rotates a principal's password after verifying the
// current one, then strands every outstanding session and token.
func (e *Engine) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword string) error {
	if e == nil || e.credentials == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}

	principal, err := e.credentials.FindByID(ctx, principalID)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if principal == nil {
		return ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(currentPassword, principal.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventLoginFailure, false, principalID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "password_change_mismatch"}
		})
		return ErrInvalidCredentials
	}

	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.credentials.UpdatePasswordHash(ctx, principalID, hash); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	// Old refresh tokens must die with the old password.
	if err := e.sessionStore.DeleteAllForPrincipal(ctx, principalID, ""); err != nil {
		return ErrBackendUnavailable
	}
	if err := e.bumpTokenVersion(ctx, principalID); err != nil {
		return err
	}
	e.metricInc(MetricSessionInvalidated)

	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, principalID, "", nil, nil)
	return nil
}

func (e *Engine) roleAllowed(role string) bool {
	for _, allowed := range e.config.Register.AllowedRoles {
		if role == allowed {
			return true
		}
	}
	return false
}
