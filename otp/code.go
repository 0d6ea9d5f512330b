package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Algorithm is the HMAC hash used for code generation.
type Algorithm string

const (
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

// ParseAlgorithm accepts the algorithm names used in otpauth URIs.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "SHA1":
		return SHA1, nil
	case "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

func (a Algorithm) hash() func() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// Code computes the RFC 4226 HOTP value of key at counter.
func Code(key []byte, counter uint64, digits int, alg Algorithm) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(alg.hash(), key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := uint32(sum[offset]&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint64(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, uint64(bin)%mod)
}

// TimeStep returns the RFC 6238 counter for t.
func TimeStep(t time.Time, period int) uint64 {
	if period <= 0 {
		period = DefaultPeriod
	}
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(period)
}

// VerifyTOTP checks code against the steps within skew of now. It returns the
// matching step.
func VerifyTOTP(key []byte, code string, digits, period, skew int, alg Algorithm, now time.Time) (uint64, bool) {
	code = strings.TrimSpace(code)
	if !wellFormed(code, digits) || len(key) == 0 {
		return 0, false
	}

	base := int64(TimeStep(now, period))
	for d := -skew; d <= skew; d++ {
		step := base + int64(d)
		if step < 0 {
			continue
		}
		if equalCodes(Code(key, uint64(step), digits, alg), code) {
			return uint64(step), true
		}
	}
	return 0, false
}

// VerifyHOTP checks code against counters [counter, counter+window]. It
// returns the counter the caller must store next.
func VerifyHOTP(key []byte, code string, digits int, counter uint64, window int, alg Algorithm) (uint64, bool) {
	code = strings.TrimSpace(code)
	if !wellFormed(code, digits) || len(key) == 0 {
		return counter, false
	}

	for i := 0; i <= window; i++ {
		c := counter + uint64(i)
		if equalCodes(Code(key, c, digits, alg), code) {
			return c + 1, true
		}
	}
	return counter, false
}

func equalCodes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func wellFormed(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
