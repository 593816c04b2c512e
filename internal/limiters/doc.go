// Package limiters provides domain-specific failure limiters built on
// Redis counters.
//
// # Limiters
//
//   - [LockoutLimiter] — escalating per-principal failed-login policy:
//     captcha gate first, hard lock at a higher threshold.
//   - [TOTPLimiter] — hardcoded 5 attempts / 60 s per principal.
//   - [BackupCodeLimiter] — per-principal failure throttle for backup
//     code attempts.
//
// All limiters are nil-safe: calling any method on a nil receiver
// returns the zero outcome.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Policy
// thresholds come from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Make policy decisions beyond counting — flow functions decide
//     consequences.
package limiters
