// Package vault applies envelope encryption field by field to stored records.
//
// Each field is opened under an explicit [Policy]. [Strict] fields propagate
// decryption errors. [LegacyPlaintext] fields tolerate values written before
// encryption was introduced: the stored value is returned unchanged and the
// field is reported to a [BackfillRecorder] so it can be re-sealed.
//
// Protect and Reveal functions take records by value and return new values.
// A record handed to a persistence layer is never decrypted in place.
//
// # What this package must NOT do
//
//   - Choose a policy implicitly. Every Open names one.
//   - Persist anything. Callers own storage.
//   - Log field values.
package vault
