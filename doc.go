// Package keyward is the security core shared by the identity, one-time-code,
// password vault and notes services: bearer tokens, envelope encryption of
// stored secrets, the password change workflow, OTP secret lifecycle and
// per-client rate limiting.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// keyward is the public surface. It exposes [Engine], [Builder], [Config], the
// persistence ports ([IdentityStore], [OTPStore], [EntryStore], [NoteStore],
// [IdentityCache], [EventPublisher]) and value types. Bucket tables, audit
// dispatch, identity caches and attempt limiters live under internal/.
// Request parsing and status mapping belong to the HTTP layer; middleware/
// holds thin adapters.
//
// # What this package must NOT do
//
//   - Log secrets, seeds, codes, tokens or key material.
//   - Distinguish a missing token from an invalid one in anything returned
//     across the trust boundary.
//   - Import any sub-package that re-imports keyward (no import cycles).
package keyward
