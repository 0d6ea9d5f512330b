// Package otp manages one-time-passcode secrets and checks HOTP/TOTP codes.
//
// Codes follow RFC 4226 (HOTP) and RFC 6238 (TOTP) with SHA1, SHA256 or
// SHA512. Seeds are compared and stored in normalized form: trimmed, spaces
// removed, upper-cased. A normalized seed that decodes as base32 is used as
// the decoded bytes; any other seed is used as its own bytes.
//
// [Manager] enforces one valid secret per owner and normalized seed, so
// creation is idempotent. It stores seeds, types and issuers only through
// package vault. A secret validates codes while its validity flag is set and
// its expiry has not passed. Each accepted code advances the stored counter,
// so a code is accepted at most once.
//
// # What this package must NOT do
//
//   - Persist a plaintext seed.
//   - Log seeds or codes.
//   - Publish events. The caller decides what to announce.
package otp
