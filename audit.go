package authcore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/caremesh/authcore/internal/audit"
)

// AuditEvent is the canonical audit record emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events on a channel for test and pipeline
// consumers.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink creates a line-oriented JSON sink.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// SQLiteAuditSink persists audit events to a local SQLite table. It
// also exposes Prune for retention sweeps.
type SQLiteAuditSink = audit.SQLiteSink

// NewSQLiteAuditSink creates the sink and its schema.
func NewSQLiteAuditSink(db *sql.DB) (*SQLiteAuditSink, error) { return audit.NewSQLiteSink(db) }

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventAccountLocked          = "account_locked"
	auditEventCaptchaIssued          = "captcha_issued"
	auditEventCaptchaFailed          = "captcha_failed"
	auditEventTwoFactorRequired      = "two_factor_required"
	auditEventTwoFactorSuccess       = "two_factor_success"
	auditEventTwoFactorFailure       = "two_factor_failure"
	auditEventTwoFactorEnabled       = "two_factor_enabled"
	auditEventTwoFactorDisabled      = "two_factor_disabled"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodesGenerated   = "backup_codes_generated"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshReuseDetected   = "refresh_reuse_detected"
	auditEventLogoutSession          = "logout_session"
	auditEventLogoutAll              = "logout_all"
	auditEventRegisterSuccess        = "register_success"
	auditEventRegisterFailure        = "register_failure"
	auditEventRegisterRateLimited    = "register_rate_limited"
	auditEventSessionInvalidated     = "session_invalidated"
	auditEventSessionCapExceeded     = "session_cap_exceeded"
	auditEventDeviceTrusted          = "device_trusted"
	auditEventDeviceTrustRevoked     = "device_trust_revoked"
	auditEventDeviceTrustBypass      = "device_trust_bypass"
	auditEventCSRFRejected           = "csrf_rejected"
	auditEventTokenRevoked           = "token_revoked"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventSuspiciousActivity     = "suspicious_activity"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordUpgradeApplied = "password_upgrade_applied"
)

// AuditErrorCode is the stable machine-readable error label recorded on
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked       AuditErrorCode = "account_locked"
	auditErrAccountInactive     AuditErrorCode = "account_inactive"
	auditErrCaptchaRequired     AuditErrorCode = "captcha_required"
	auditErrCaptchaInvalid      AuditErrorCode = "captcha_invalid"
	auditErrTwoFactorRequired   AuditErrorCode = "two_factor_required"
	auditErrTwoFactorInvalid    AuditErrorCode = "two_factor_invalid"
	auditErrChallengeInvalid    AuditErrorCode = "challenge_invalid"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrTokenExpired        AuditErrorCode = "token_expired"
	auditErrTokenRevoked        AuditErrorCode = "token_revoked"
	auditErrTokenMalformed      AuditErrorCode = "token_malformed"
	auditErrSessionInvalid      AuditErrorCode = "session_invalid"
	auditErrSessionLimit        AuditErrorCode = "session_limit_exceeded"
	auditErrCSRFInvalid         AuditErrorCode = "csrf_invalid"
	auditErrRefreshReuse        AuditErrorCode = "refresh_reuse"
	auditErrPasswordPolicy      AuditErrorCode = "password_policy"
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrRoleInvalid         AuditErrorCode = "role_invalid"
	auditErrDeviceNotTrusted    AuditErrorCode = "device_not_trusted"
	auditErrBackendUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrCaptchaRequired):
		return auditErrCaptchaRequired
	case errors.Is(err, ErrCaptchaInvalid):
		return auditErrCaptchaInvalid
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrTwoFactorInvalid),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorAlreadyEnabled):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrChallengeInvalid):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenMalformed):
		return auditErrTokenMalformed
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrSessionLimitExceeded):
		return auditErrSessionLimit
	case errors.Is(err, ErrCSRFInvalid):
		return auditErrCSRFInvalid
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPrincipalExists):
		return auditErrDuplicate
	case errors.Is(err, ErrRoleInvalid):
		return auditErrRoleInvalid
	case errors.Is(err, ErrDeviceNotTrusted):
		return auditErrDeviceNotTrusted
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrBackendUnavailable
	default:
		return auditErrInternal
	}
}
