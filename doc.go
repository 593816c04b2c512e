// Package authcore is the authentication and session security engine for
// a multi-role healthcare platform: credential login with escalating
// lockout and captcha, TOTP two-factor with backup codes, trusted
// devices, a Redis-backed session registry with single-use refresh
// rotation, token revocation, and stateless CSRF protection.
//
// The Engine is the single entry point. Construct one with a Builder,
// provide a CredentialStore for principal records and second-factor
// secrets, and call the operation methods. All blocking operations take
// a context.Context; client metadata (IP, user agent, device
// fingerprint) rides on the context via WithClientIP and friends.
package authcore
