// Package session is the Redis-backed session registry. Sessions are
// stored as versioned binary blobs with an absolute expiry, indexed per
// principal for enumeration and mass invalidation.
//
// The refresh-rotation protocol lives here: each session carries the
// SHA-256 hash of the jti of its one valid refresh token, and
// RotateRefreshHash swaps it with a Lua compare-and-swap. A concurrent
// second use of an already-consumed refresh token observes the hash
// mismatch atomically; check-then-revoke as two steps would leave a
// window where both calls see the token as valid.
package session
