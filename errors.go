package keyward

import (
	"errors"

	"github.com/thisjowi/keyward/envelope"
	"github.com/thisjowi/keyward/password"
)

var (
	// ErrInvalidToken covers malformed, mis-signed and expired bearer tokens.
	// It carries no detail about which check failed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRateLimited is returned when a rate bucket is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRateLimitUnavailable reports a rate store that could not answer.
	ErrRateLimitUnavailable = errors.New("rate limit backend unavailable")
	// ErrMalformedCiphertext is the envelope error for undecodable stored values.
	ErrMalformedCiphertext = envelope.ErrMalformedCiphertext
	// ErrDecryptionFailed is the envelope error for tag or padding failures.
	ErrDecryptionFailed = envelope.ErrDecryptionFailed
	// ErrWeakSecret is wrapped by every strength policy violation.
	ErrWeakSecret = password.ErrWeakSecret
	// ErrSecretMismatch covers a confirmation mismatch and a wrong current secret.
	ErrSecretMismatch = errors.New("secret mismatch")
	// ErrSecretReuse rejects a new secret equal to the current one.
	ErrSecretReuse = errors.New("new secret must differ from current secret")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	// ErrInvalidRequest reports input the engine cannot act on.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrIdentityExists is returned by IdentityStore.CreateIdentity for a taken email.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrInvalidCredentials is returned by Login for an unknown email or wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrOTPRateLimited is returned after too many failed codes for one secret.
	ErrOTPRateLimited = errors.New("otp attempts rate limited")
	// ErrEngineNotReady is returned by methods called on a nil or partially
	// configured Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
