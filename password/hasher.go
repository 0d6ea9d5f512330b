package password

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("password must not be empty")
	// ErrUnknownHashFormat reports a stored hash no verifier recognises.
	ErrUnknownHashFormat = errors.New("unknown password hash format")
)

// Hasher produces argon2id hashes and verifies both argon2id and legacy
// bcrypt hashes.
type Hasher struct {
	argon *Argon2
}

// NewHasher returns a Hasher whose new hashes use cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash returns a new argon2id hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	return h.argon.Hash(secret)
}

// Verify reports whether secret matches encoded. An empty stored hash never
// matches.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	switch {
	case encoded == "":
		return false, nil
	case isBcrypt(encoded):
		return verifyBcrypt(secret, encoded)
	default:
		ok, err := h.argon.Verify(secret, encoded)
		if errors.Is(err, errInvalidPHC) {
			return false, fmt.Errorf("%w: %v", ErrUnknownHashFormat, err)
		}
		return ok, err
	}
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh hash
// after the next successful verification.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	weaker, err := h.argon.NeedsUpgrade(encoded)
	return err != nil || weaker
}
