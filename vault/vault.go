package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thisjowi/keyward/envelope"
)

// Policy decides what happens when a stored field cannot be decrypted.
type Policy uint8

const (
	// Strict returns the decryption error to the caller.
	Strict Policy = iota
	// LegacyPlaintext returns the stored value unchanged and reports the field
	// for backfill.
	LegacyPlaintext
)

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case LegacyPlaintext:
		return "legacy_plaintext"
	default:
		return "unknown"
	}
}

// Fallback describes one field that was served as stored plaintext.
type Fallback struct {
	Record string
	ID     int64
	Field  string
	Cause  error
}

// BackfillRecorder is notified about every LegacyPlaintext fallback.
type BackfillRecorder interface {
	RecordFallback(ctx context.Context, f Fallback)
}

// FieldError reports a Strict field that failed to open.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("vault field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Cipher is the subset of *envelope.Cipher used here.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

var _ Cipher = (*envelope.Cipher)(nil)

// Vault seals and opens individual fields.
type Vault struct {
	cipher   Cipher
	recorder BackfillRecorder
	logger   *slog.Logger
}

// New returns a Vault over c. recorder and logger may be nil.
func New(c Cipher, recorder BackfillRecorder, logger *slog.Logger) (*Vault, error) {
	if c == nil {
		return nil, errors.New("vault requires a cipher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{cipher: c, recorder: recorder, logger: logger}, nil
}

// Seal encrypts a single value. Empty values stay empty.
func (v *Vault) Seal(value string) (string, error) {
	return v.cipher.Encrypt(value)
}

// Open decrypts one stored field under policy p. ref identifies the field for
// error messages and backfill reports.
func (v *Vault) Open(ctx context.Context, ref FieldRef, stored string, p Policy) (string, error) {
	plain, _, err := v.openField(ctx, ref, stored, p)
	return plain, err
}

func (v *Vault) openField(ctx context.Context, ref FieldRef, stored string, p Policy) (string, bool, error) {
	plain, err := v.cipher.Decrypt(stored)
	if err == nil {
		return plain, false, nil
	}
	if !isRecoverable(err) || p == Strict {
		return "", false, &FieldError{Field: ref.Field, Err: err}
	}

	v.logger.WarnContext(ctx, "serving stored plaintext for field pending backfill",
		"record", ref.Record,
		"id", ref.ID,
		"field", ref.Field,
		"stored_bytes", len(stored),
	)
	if v.recorder != nil {
		v.recorder.RecordFallback(ctx, Fallback{Record: ref.Record, ID: ref.ID, Field: ref.Field, Cause: err})
	}
	return stored, true, nil
}

// FieldRef names a field of a stored record.
type FieldRef struct {
	Record string
	ID     int64
	Field  string
}

func isRecoverable(err error) bool {
	return errors.Is(err, envelope.ErrMalformedCiphertext) || errors.Is(err, envelope.ErrDecryptionFailed)
}
