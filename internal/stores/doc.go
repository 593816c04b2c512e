// Package stores provides Redis-backed, short-lived record stores for
// security-sensitive authentication flows: captcha challenges, pending
// two-factor logins, token revocation, and trusted devices.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a
// TTL. Mutation operations (Claim, RecordFailure) use Lua scripts or
// WATCH/MULTI optimistic transactions with automatic retry on
// contention. Challenge records are single-use: consumed or deleted on
// success, and enforce attempt limits to resist brute-force attacks.
// Secret comparisons use constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// security records. It does NOT generate codes, enforce rate limits, or
// make authentication decisions.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
