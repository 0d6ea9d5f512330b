// Package password hashes identity secrets and enforces the strength policy.
//
// # Output format
//
// New hashes are argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes ($2a$, $2b$, $2y$) left by older
// deployments. [Hasher.NeedsUpgrade] reports true for those and for argon2id
// hashes made with weaker parameters, so the caller can rehash after the next
// successful verification.
//
// # Strength policy
//
// [CheckStrength] applies, in order: at least 8 characters, at most 128,
// an uppercase letter, a lowercase letter, a digit, and a symbol from
// [Symbols]. Only the first violation is reported.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets. Callers supply plaintext and receive hashes.
//   - Import any other keyward package.
//   - Log plaintext secrets or hash parameters.
package password
