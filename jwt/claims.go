package jwt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidNumericDate reports an iat or exp claim that is not a number.
var ErrInvalidNumericDate = errors.New("invalid numeric date")

// Claims is the token payload: the identity id in sub plus a display claim.
//
// iat and exp are encoded as NumericDate values with up to three fractional
// digits, so a token stays valid for its whole TTL regardless of where in a
// second it was issued.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityID returns the numeric identity carried in sub.
func (c *Claims) IdentityID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidSubject
	}
	return id, nil
}

// claimsJSON drops the Claims methods so the codecs below do not recurse.
type claimsJSON Claims

func (c Claims) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		claimsJSON
		IssuedAt  *millis `json:"iat,omitempty"`
		ExpiresAt *millis `json:"exp,omitempty"`
	}{
		claimsJSON: claimsJSON(c),
		IssuedAt:   millisOf(c.RegisteredClaims.IssuedAt),
		ExpiresAt:  millisOf(c.RegisteredClaims.ExpiresAt),
	})
}

func (c *Claims) UnmarshalJSON(data []byte) error {
	var in struct {
		claimsJSON
		IssuedAt  *millis `json:"iat"`
		ExpiresAt *millis `json:"exp"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Claims(in.claimsJSON)
	c.RegisteredClaims.IssuedAt = in.IssuedAt.numericDate()
	c.RegisteredClaims.ExpiresAt = in.ExpiresAt.numericDate()
	return nil
}

// millis is a NumericDate decoded from its decimal text, so fractional
// seconds survive without a float round trip.
type millis struct {
	t time.Time
}

func millisOf(d *jwt.NumericDate) *millis {
	if d == nil {
		return nil
	}
	return &millis{t: d.Time.Truncate(time.Millisecond)}
}

func (m *millis) numericDate() *jwt.NumericDate {
	if m == nil {
		return nil
	}
	return &jwt.NumericDate{Time: m.t}
}

func (m millis) MarshalJSON() ([]byte, error) {
	ms := m.t.UnixMilli()
	sec, frac := ms/1000, ms%1000
	if frac < 0 {
		sec, frac = sec-1, frac+1000
	}
	if frac == 0 {
		return strconv.AppendInt(nil, sec, 10), nil
	}
	return fmt.Appendf(nil, "%d.%03d", sec, frac), nil
}

func (m *millis) UnmarshalJSON(data []byte) error {
	text := string(data)
	whole, frac, hasFrac := strings.Cut(text, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || strings.HasPrefix(whole, "-") || (hasFrac && !allDigits(frac)) {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidNumericDate
		}
		m.t = time.UnixMilli(int64(math.Floor(f * 1000)))
		return nil
	}

	var ms int64
	if hasFrac {
		frac = (frac + "00")[:3]
		ms, _ = strconv.ParseInt(frac, 10, 64)
	}
	m.t = time.UnixMilli(sec*1000 + ms)
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
