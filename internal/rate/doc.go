// Package rate provides the Redis-backed fixed-window rate limiter used
// by every externally reachable authentication operation.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. A scope
// that exhausts its window budget gets a block flag with its own TTL, so
// the penalty outlives the counting window. Key prefixes:
//   - rl:<action>:<scope>  — window counter
//   - rlb:<action>:<scope> — block flag
//
// # What this package must NOT do
//
//   - Implement account lockout or captcha policy (those live in
//     internal/limiters).
//   - Be imported outside the authcore module.
package rate
