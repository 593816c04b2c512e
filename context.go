package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceFingerprintContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses
// it for per-IP rate limiting, audit logging and session records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is
// recorded on the session for later enumeration.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceFingerprint attaches a stable client device fingerprint to
// ctx. Trusted-device lookups and registrations key off it.
func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, deviceFingerprintContextKey{}, fingerprint)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func deviceFingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	fingerprint, _ := ctx.Value(deviceFingerprintContextKey{}).(string)
	return fingerprint
}
