package authcore

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong
	// passwords alike; callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the failed-login hard lock is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for disabled or suspended principals.
	ErrAccountInactive = errors.New("account inactive")
	// ErrCaptchaRequired signals that the next login attempt must carry a
	// solved captcha.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrCaptchaInvalid covers missing, expired, mismatched and exhausted
	// captcha challenges.
	ErrCaptchaInvalid = errors.New("captcha invalid")
	// ErrTwoFactorRequired signals that password verification succeeded
	// and a second-factor confirmation is pending.
	ErrTwoFactorRequired = errors.New("two-factor confirmation required")
	// ErrTwoFactorInvalid covers wrong TOTP codes, replayed codes and
	// wrong backup codes.
	ErrTwoFactorInvalid = errors.New("two-factor code invalid")
	// ErrTwoFactorNotEnabled is returned when a second-factor operation
	// targets a principal without 2FA configured.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorAlreadyEnabled is returned when setup is attempted on a
	// principal that already has 2FA active.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrChallengeInvalid covers unknown, expired and exhausted pending
	// two-factor login challenges.
	ErrChallengeInvalid = errors.New("login challenge invalid")
	// ErrRateLimited is returned when a scope exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenExpired is returned for structurally valid tokens past
	// their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for tokens on the revocation denylist.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenMalformed covers undecodable tokens, bad signatures, wrong
	// token kinds and stale token versions.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrSessionInvalid is returned when the session behind a valid token
	// no longer exists.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionLimitExceeded is returned when a login would exceed the
	// per-principal session cap.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrCSRFInvalid covers missing, malformed, expired and cross-session
	// CSRF tokens.
	ErrCSRFInvalid = errors.New("csrf token invalid")
	// ErrRefreshReuse is returned when an already-consumed refresh token
	// is presented again.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrPasswordPolicy is returned when a password fails minimum
	// requirements.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPrincipalExists is returned when registration hits a duplicate
	// identifier.
	ErrPrincipalExists = errors.New("principal already exists")
	// ErrRoleInvalid is returned for roles outside the configured set.
	ErrRoleInvalid = errors.New("invalid role")
	// ErrDeviceNotTrusted is returned when revoking trust for an unknown
	// device.
	ErrDeviceNotTrusted = errors.New("device not trusted")
	// ErrStoreUnavailable wraps credential store failures. Backend
	// trouble is never reported as bad credentials.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrBackendUnavailable wraps Redis and other infrastructure
	// failures.
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when the engine is missing a required
	// dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the window reset time alongside
// ErrRateLimited so transports can emit a Retry-After header.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
