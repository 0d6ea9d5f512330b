package otp

import (
	"net/url"
	"strconv"
	"strings"
)

// ProvisioningURI renders s as an otpauth:// URI for authenticator apps.
func ProvisioningURI(s Secret) string {
	label := s.Name
	if s.Issuer != "" {
		label = s.Issuer + ":" + s.Name
	}

	v := url.Values{}
	v.Set("secret", uriSecret(s.Seed))
	if s.Issuer != "" {
		v.Set("issuer", s.Issuer)
	}
	v.Set("digits", strconv.Itoa(s.Digits))
	v.Set("algorithm", string(s.Algorithm))
	if s.Type == HOTP {
		v.Set("counter", strconv.FormatUint(s.Counter, 10))
	} else {
		v.Set("period", strconv.Itoa(s.Period))
	}

	return "otpauth://" + strings.ToLower(string(s.Type)) + "/" + url.PathEscape(label) + "?" + v.Encode()
}

// Authenticator apps expect base32. Seeds that are not base32 are encoded so
// the app derives the same key.
func uriSecret(seed string) string {
	if _, ok := decodeBase32(seed); ok {
		return strings.TrimRight(seed, "=")
	}
	return seedEncoding.EncodeToString([]byte(seed))
}
