package otp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound             = errors.New("otp secret not found")
	ErrForbidden            = errors.New("otp secret belongs to another identity")
	ErrInvalidRequest       = errors.New("invalid otp request")
	ErrUnsupportedAlgorithm = errors.New("unsupported otp algorithm")
)

const (
	SeedBytes     = 20
	DefaultDigits = 6
	DefaultPeriod = 30
	MinDigits     = 6
	MaxDigits     = 10
)

var seedEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Type is the code generation scheme.
type Type string

const (
	TOTP Type = "TOTP"
	HOTP Type = "HOTP"
)

// ParseType accepts TOTP and HOTP in any case. Empty means TOTP.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case "", TOTP:
		return TOTP, nil
	case HOTP:
		return HOTP, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, s)
	}
}

// Secret is a revealed one-time-passcode secret.
type Secret struct {
	ID        int64
	OwnerID   int64
	Name      string
	Seed      string
	Type      Type
	Issuer    string
	Digits    int
	Period    int
	Algorithm Algorithm
	Counter   uint64
	ExpiresAt time.Time
	Valid     bool
	CreatedAt time.Time
}

// Active reports whether s can still validate codes at now.
func (s Secret) Active(now time.Time) bool {
	return s.Valid && now.Before(s.ExpiresAt)
}

// Record is the stored form of a Secret. Seed, Type and Issuer hold sealed
// values.
type Record struct {
	ID        int64
	OwnerID   int64
	Name      string
	Seed      string
	Type      string
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Counter   uint64
	ExpiresAt time.Time
	Valid     bool
	CreatedAt time.Time
}

// NormalizeSeed trims s, removes spaces and upper-cases it.
func NormalizeSeed(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// GenerateSeed returns SeedBytes of random data as unpadded base32.
func GenerateSeed() (string, error) {
	raw := make([]byte, SeedBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate otp seed: %w", err)
	}
	return seedEncoding.EncodeToString(raw), nil
}

// KeyFromSeed returns the HMAC key for a normalized seed. Seeds that are
// valid base32 are decoded; anything else is used as its bytes.
func KeyFromSeed(seed string) []byte {
	if key, ok := decodeBase32(seed); ok {
		return key
	}
	return []byte(seed)
}

func decodeBase32(seed string) ([]byte, bool) {
	trimmed := strings.TrimRight(seed, "=")
	if trimmed == "" {
		return nil, false
	}
	key, err := seedEncoding.DecodeString(trimmed)
	if err != nil || len(key) == 0 {
		return nil, false
	}
	return key, true
}
