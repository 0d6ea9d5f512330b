package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the smallest accepted HS256 key (256 bits).
const MinSecretBytes = 32

// DefaultTTL is applied when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidSubject reports a token whose sub claim is not a positive decimal id.
	ErrInvalidSubject = errors.New("token subject is not a valid identity id")
	// ErrFutureIssuedAt reports a token issued further in the future than allowed.
	ErrFutureIssuedAt = errors.New("token iat too far in the future")
)

// Config configures a Manager.
type Config struct {
	Secret       []byte
	TTL          time.Duration
	Issuer       string
	KeyID        string
	VerifyKeys   map[string][]byte
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Manager issues and verifies HS256 identity tokens. It holds no mutable
// state after construction.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinSecretBytes {
			return nil, fmt.Errorf("verify key for kid %q is shorter than %d bytes", kid, MinSecretBytes)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	cfg.Secret = append([]byte(nil), cfg.Secret...)
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// TTL reports the lifetime given to issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Issue signs a token for identityID. The validity window is
// [iat, iat+TTL) with iat and exp carried at millisecond resolution.
func (m *Manager) Issue(identityID int64, display string) (string, error) {
	if identityID <= 0 {
		return "", ErrInvalidSubject
	}
	issued := m.config.Now().Truncate(time.Millisecond)

	claims := Claims{
		Email: display,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(identityID, 10),
			IssuedAt:  &jwt.NumericDate{Time: issued},
			ExpiresAt: &jwt.NumericDate{Time: issued.Add(m.config.TTL)},
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	return token.SignedString(m.config.Secret)
}

// Parse verifies signature, expiry and subject and returns the claims.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	token, err := m.parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
			return nil, ErrFutureIssuedAt
		}
	}
	if _, err := claims.IdentityID(); err != nil {
		return nil, err
	}

	return claims, nil
}

// Verify returns the identity id carried by a valid token. Every failure
// collapses to (0, false).
func (m *Manager) Verify(tokenStr string) (int64, bool) {
	if m == nil || tokenStr == "" {
		return 0, false
	}
	claims, err := m.Parse(tokenStr)
	if err != nil {
		return 0, false
	}
	id, err := claims.IdentityID()
	if err != nil {
		return 0, false
	}
	return id, true
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}

	return m.config.Secret, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(header, bearer) {
		return "", false
	}

	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
