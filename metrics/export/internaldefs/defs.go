package internaldefs

import (
	"github.com/caremesh/authcore"
)

// CounterDef maps one engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef maps one engine histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in emission order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked by the failed-login policy."},
	{ID: authcore.MetricCaptchaIssued, Name: "authcore_captcha_issued_total", Help: "Issued captcha challenges."},
	{ID: authcore.MetricCaptchaRequired, Name: "authcore_captcha_required_total", Help: "Logins rejected pending a captcha."},
	{ID: authcore.MetricCaptchaSolved, Name: "authcore_captcha_solved_total", Help: "Correctly solved captchas."},
	{ID: authcore.MetricCaptchaFailed, Name: "authcore_captcha_failed_total", Help: "Failed captcha attempts."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins deferred to a second factor."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful second-factor confirmations."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed second-factor confirmations."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Failed backup-code authentications."},
	{ID: authcore.MetricBackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup-code set regenerations."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authcore.MetricValidateSuccess, Name: "authcore_validate_success_total", Help: "Successful access token validations."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Failed access token validations."},
	{ID: authcore.MetricTokenRevoked, Name: "authcore_token_revoked_total", Help: "Tokens added to the revocation denylist."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionInvalidated, Name: "authcore_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: authcore.MetricSessionCapExceeded, Name: "authcore_session_cap_exceeded_total", Help: "Logins denied by the per-principal session cap."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRegisterRateLimited, Name: "authcore_register_rate_limited_total", Help: "Rate-limited registration attempts."},
	{ID: authcore.MetricDeviceTrusted, Name: "authcore_device_trusted_total", Help: "Registered trusted devices."},
	{ID: authcore.MetricDeviceTrustRevoked, Name: "authcore_device_trust_revoked_total", Help: "Revoked device trusts."},
	{ID: authcore.MetricDeviceTrustBypass, Name: "authcore_device_trust_bypass_total", Help: "Second-factor bypasses via trusted devices."},
	{ID: authcore.MetricCSRFIssued, Name: "authcore_csrf_issued_total", Help: "Issued CSRF tokens."},
	{ID: authcore.MetricCSRFRejected, Name: "authcore_csrf_rejected_total", Help: "Rejected CSRF tokens."},
	{ID: authcore.MetricSecurityEvent, Name: "authcore_security_event_total", Help: "Escalated security events."},
}

// HistogramDefs lists every exported histogram in emission order.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access validation latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets
// in seconds, as rendered in exposition output.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix gives each bound a name-safe suffix for backends
// without native histogram support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus expects.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
