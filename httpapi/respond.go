package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caremesh/authcore"
)

type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type apiError struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)

	e := &apiError{Code: code, Message: err.Error()}

	var rl *authcore.RateLimitedError
	if errors.As(err, &rl) && !rl.ResetAt.IsZero() {
		resetAt := rl.ResetAt.UTC()
		e.ResetAt = &resetAt
		retryAfter := time.Until(rl.ResetAt).Seconds()
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(int(retryAfter)))
	}

	c.JSON(status, envelope{
		Success:   false,
		Error:     e,
		Timestamp: time.Now().UTC(),
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, envelope{
		Success:   false,
		Error:     &apiError{Code: "INVALID_INPUT", Message: message},
		Timestamp: time.Now().UTC(),
	})
}

// statusFor maps engine sentinels onto HTTP statuses. Credential and
// token failures share 401 so callers learn nothing extra from the
// status line.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusLocked, "ACCOUNT_LOCKED"
	case errors.Is(err, authcore.ErrCaptchaRequired):
		return http.StatusForbidden, "CAPTCHA_REQUIRED"
	case errors.Is(err, authcore.ErrAccountInactive):
		return http.StatusForbidden, "ACCOUNT_INACTIVE"
	case errors.Is(err, authcore.ErrSessionLimitExceeded):
		return http.StatusForbidden, "SESSION_LIMIT"
	case errors.Is(err, authcore.ErrCSRFInvalid):
		return http.StatusForbidden, "CSRF_INVALID"
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTwoFactorInvalid),
		errors.Is(err, authcore.ErrChallengeInvalid),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenRevoked),
		errors.Is(err, authcore.ErrTokenMalformed),
		errors.Is(err, authcore.ErrSessionInvalid),
		errors.Is(err, authcore.ErrRefreshReuse):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, authcore.ErrCaptchaInvalid):
		return http.StatusBadRequest, "CAPTCHA_INVALID"
	case errors.Is(err, authcore.ErrPasswordPolicy):
		return http.StatusBadRequest, "PASSWORD_POLICY"
	case errors.Is(err, authcore.ErrPrincipalExists):
		return http.StatusBadRequest, "DUPLICATE_IDENTIFIER"
	case errors.Is(err, authcore.ErrRoleInvalid):
		return http.StatusBadRequest, "INVALID_ROLE"
	case errors.Is(err, authcore.ErrTwoFactorNotEnabled):
		return http.StatusBadRequest, "TWO_FACTOR_NOT_ENABLED"
	case errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled):
		return http.StatusBadRequest, "TWO_FACTOR_ALREADY_ENABLED"
	case errors.Is(err, authcore.ErrDeviceNotTrusted):
		return http.StatusNotFound, "DEVICE_NOT_TRUSTED"
	case errors.Is(err, authcore.ErrBackendUnavailable),
		errors.Is(err, authcore.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
