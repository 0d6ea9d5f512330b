package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2Prefix          = "$argon2id$"
)

var errInvalidPHC = errors.New("invalid argon2id PHC string")

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes secrets with argon2id and encodes them as PHC strings.
type Argon2 struct {
	config Config
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2 validates cfg and returns an Argon2 hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a PHC-encoded argon2id hash for secret. The secret is used
// byte for byte, with no Unicode normalization.
func (a *Argon2) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches an argon2id PHC string.
func (a *Argon2) Verify(secret, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(secret), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(key, p.hash) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(p.hash))
	return weaker, nil
}

// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func decodePHC(encoded string) (*phc, error) {
	rest, ok := strings.CutPrefix(encoded, argon2Prefix)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm", errInvalidPHC)
	}
	parts := strings.Split(rest, "$")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: wrong number of segments", errInvalidPHC)
	}

	version, ok := strings.CutPrefix(parts[0], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing version", errInvalidPHC)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version", errInvalidPHC)
	}

	out := &phc{}
	if err := out.parseParams(parts[1]); err != nil {
		return nil, err
	}

	var err error
	if out.salt, err = base64.StdEncoding.DecodeString(parts[2]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: bad salt", errInvalidPHC)
	}
	if out.hash, err = base64.StdEncoding.DecodeString(parts[3]); err != nil || len(out.hash) == 0 {
		return nil, fmt.Errorf("%w: bad hash", errInvalidPHC)
	}
	return out, nil
}

func (p *phc) parseParams(segment string) error {
	seen := map[string]bool{}
	for _, pair := range strings.Split(segment, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return fmt.Errorf("%w: bad parameter %q", errInvalidPHC, pair)
		}
		seen[name] = true

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: bad memory parameter", errInvalidPHC)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: bad time parameter", errInvalidPHC)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: bad parallelism parameter", errInvalidPHC)
			}
			p.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unsupported parameter %q", errInvalidPHC, name)
		}
	}
	if !seen["m"] || !seen["t"] || !seen["p"] {
		return fmt.Errorf("%w: missing parameters", errInvalidPHC)
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case c.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}
