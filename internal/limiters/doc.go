// Package limiters provides attempt limiters for keyward flows that need a
// budget per secret rather than per client address.
//
// # Limiters
//
//   - [OTPLimiter]: failed code attempts per OTP secret, default 5 per 60 s.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace and error types. Thresholds
// come from Config structs supplied at construction time.
//
// # What this package must NOT do
//
//   - Import keyward or any sibling internal package.
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
