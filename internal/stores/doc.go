// Package stores provides the identity cache implementations behind the
// engine's IdentityCache port.
//
// # Design
//
// An identity is cached twice, under its id and under its normalized email,
// so both lookups hit. Writes to the identity's password hash must be
// followed by Invalidate, which removes both entries.
//
// [RedisIdentityCache] stores a versioned, binary-encoded record with a TTL.
// Unreadable records are treated as misses and deleted.
// [MemoryIdentityCache] keeps entries in process memory with the same TTL
// semantics.
//
// # What this package must NOT do
//
//   - Import keyward or any sibling internal package.
//   - Log password hashes.
//   - Decide when to invalidate; the engine owns that.
package stores
