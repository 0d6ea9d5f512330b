// Package rate provides per-source admission control for the keyward
// endpoints.
//
// # Bucket semantics
//
// Each (class, source address) pair owns a token bucket of Capacity tokens.
// The bucket is refilled to full capacity once per Period; there is no
// proportional drip. Two backends implement [Store]:
//
//   - [MemoryStore] keeps buckets in a process-local map, created atomically
//     on first use and evicted by [MemoryStore.Sweep] once idle.
//   - [RedisStore] keeps one counter per bucket. A Lua script performs
//     INCR, sets PEXPIRE on the first hit of a window and reads PTTL, so
//     concurrent processes share one budget.
//
// Key prefix in Redis: rl:<class>|<source>
//
// # What this package must NOT do
//
//   - Parse HTTP requests beyond the address and path helpers.
//   - Be imported outside the keyward module.
package rate
