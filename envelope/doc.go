// Package envelope encrypts individual field values for storage at rest.
//
// # Wire format
//
// A sealed value is the standard base64 encoding of
//
//	nonce || ciphertext || tag     (ModeGCM, 12-byte nonce)
//	iv || ciphertext               (ModeCBC, 16-byte IV, PKCS#7 padding)
//
// ModeCBC carries no authentication tag. It exists to read and write rows
// produced by deployments that used it and should not be chosen for new data.
//
// The empty string stands for an absent value: it encrypts and decrypts to itself.
//
// # What this package must NOT do
//
//   - Log key material, plaintexts, or ciphertexts. Only byte counts.
//   - Decide whether a decryption failure is fatal (see package vault).
//   - Import any other keyward package.
package envelope
