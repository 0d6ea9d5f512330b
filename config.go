package keyward

import (
	"errors"
	"fmt"
	"time"

	"github.com/thisjowi/keyward/envelope"
	"github.com/thisjowi/keyward/jwt"
	"github.com/thisjowi/keyward/otp"
)

// Config is the full engine configuration. Start from DefaultConfig and set
// the two secrets; Build rejects anything Validate rejects.
type Config struct {
	Token     TokenConfig
	Envelope  EnvelopeConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	OTP       OTPConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Cache     CacheConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures bearer token issuance and verification.
type TokenConfig struct {
	// Secret signs new tokens. At least 32 bytes.
	Secret string
	TTL    time.Duration
	Issuer string
	// KeyID is written to the kid header when set.
	KeyID string
	// PreviousKeys maps retired kids to secrets still accepted for verification.
	PreviousKeys map[string]string
	// MaxFutureIAT bounds how far in the future iat may be.
	MaxFutureIAT time.Duration
}

/*
====================================
ENVELOPE CONFIG
====================================
*/

// EnvelopeConfig configures encryption of stored secrets.
type EnvelopeConfig struct {
	// Secret is reduced to the AES key by the KDF. At least 32 characters.
	Secret string
	// Mode is "gcm" (default) or "cbc". CBC is unauthenticated and exists for
	// data written by services that used it.
	Mode string
	// KDF is "sha256" (default) or "hkdf".
	KDF string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is the bucket capacity and refill interval of one class.
type RatePolicy struct {
	Capacity int
	Period   time.Duration
}

// RateLimitConfig configures per-client admission control.
type RateLimitConfig struct {
	Enabled bool
	// Backend is "memory" or "redis". Redis requires Builder.WithRedis.
	Backend        string
	RedisPrefix    string
	Login          RatePolicy
	Register       RatePolicy
	ChangePassword RatePolicy
	Default        RatePolicy
	// SweepInterval is how often idle memory buckets are evicted. Zero
	// disables the sweeper.
	SweepInterval time.Duration
	// IdleEviction is how long a memory bucket may sit unused. Zero means ten
	// times the longest period.
	IdleEviction time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures OTP secret defaults and validation.
type OTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Algorithm string
	// Skew is the number of TOTP steps accepted on each side of now.
	Skew       int
	HOTPWindow int
	// ProvisionValidity is the lifetime of secrets created for new identities.
	ProvisionValidity time.Duration
	// AutoProvision creates a secret when a USER_REGISTERED event arrives.
	AutoProvision bool
	// MaxAttempts failed codes per secret within AttemptCooldown. Needs Redis.
	MaxAttempts     int
	AttemptCooldown time.Duration
}

/*
====================================
AUDIT / METRICS / CACHE CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// DrainTimeout bounds how long Close waits for queued events. Zero waits
	// until the queue is empty.
	DrainTimeout time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// CacheConfig controls the identity cache used when none is supplied.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	// RedisPrefix is used when Builder.WithRedis supplies a client.
	RedisPrefix string
}

// DefaultConfig returns the production defaults with empty secrets.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:          jwt.DefaultTTL,
			MaxFutureIAT: time.Minute,
		},
		Envelope: EnvelopeConfig{
			Mode: string(envelope.ModeGCM),
			KDF:  string(envelope.KDFSHA256),
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Backend:        "memory",
			RedisPrefix:    "rl",
			Login:          RatePolicy{Capacity: 5, Period: time.Minute},
			Register:       RatePolicy{Capacity: 3, Period: time.Minute},
			ChangePassword: RatePolicy{Capacity: 3, Period: time.Minute},
			Default:        RatePolicy{Capacity: 100, Period: time.Minute},
			SweepInterval:  time.Minute,
		},
		OTP: OTPConfig{
			Issuer:            "keyward",
			Digits:            otp.DefaultDigits,
			Period:            otp.DefaultPeriod,
			Algorithm:         string(otp.SHA1),
			Skew:              1,
			HOTPWindow:        10,
			ProvisionValidity: 30 * 24 * time.Hour,
			AutoProvision:     true,
			MaxAttempts:       5,
			AttemptCooldown:   time.Minute,
		},
		Audit: AuditConfig{
			Enabled:      true,
			BufferSize:   1024,
			DropIfFull:   true,
			DrainTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         10 * time.Minute,
			RedisPrefix: "idc",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Token.PreviousKeys != nil {
		out.Token.PreviousKeys = make(map[string]string, len(cfg.Token.PreviousKeys))
		for k, v := range cfg.Token.PreviousKeys {
			out.Token.PreviousKeys[k] = v
		}
	}
	return out
}

// Validate returns the first violated constraint.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.Secret) < jwt.MinSecretBytes {
		return fmt.Errorf("Token Secret must be at least %d bytes", jwt.MinSecretBytes)
	}
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	if c.Token.MaxFutureIAT < 0 {
		return errors.New("Token MaxFutureIAT must be >= 0")
	}
	for kid, secret := range c.Token.PreviousKeys {
		if kid == "" {
			return errors.New("Token PreviousKeys must not contain an empty kid")
		}
		if len(secret) < jwt.MinSecretBytes {
			return fmt.Errorf("Token PreviousKeys[%s] must be at least %d bytes", kid, jwt.MinSecretBytes)
		}
	}

	// Envelope
	if len(c.Envelope.Secret) < envelope.MinSecretLength {
		return fmt.Errorf("Envelope Secret must be at least %d characters", envelope.MinSecretLength)
	}
	switch envelope.Mode(c.Envelope.Mode) {
	case envelope.ModeGCM, envelope.ModeCBC:
	default:
		return errors.New("Envelope Mode must be 'gcm' or 'cbc'")
	}
	switch envelope.KDF(c.Envelope.KDF) {
	case envelope.KDFSHA256, envelope.KDFHKDF:
	default:
		return errors.New("Envelope KDF must be 'sha256' or 'hkdf'")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
			return errors.New("RateLimit Backend must be 'memory' or 'redis'")
		}
		for name, p := range map[string]RatePolicy{
			"Login":          c.RateLimit.Login,
			"Register":       c.RateLimit.Register,
			"ChangePassword": c.RateLimit.ChangePassword,
			"Default":        c.RateLimit.Default,
		} {
			if p.Capacity <= 0 || p.Period <= 0 {
				return fmt.Errorf("RateLimit %s needs Capacity > 0 and Period > 0", name)
			}
		}
		if c.RateLimit.SweepInterval < 0 || c.RateLimit.IdleEviction < 0 {
			return errors.New("RateLimit SweepInterval and IdleEviction must be >= 0")
		}
	}

	// OTP
	if c.OTP.Digits < otp.MinDigits || c.OTP.Digits > otp.MaxDigits {
		return fmt.Errorf("OTP Digits must be between %d and %d", otp.MinDigits, otp.MaxDigits)
	}
	if c.OTP.Period <= 0 {
		return errors.New("OTP Period must be > 0")
	}
	if _, err := otp.ParseAlgorithm(c.OTP.Algorithm); err != nil {
		return errors.New("OTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.OTP.Skew < 0 || c.OTP.HOTPWindow < 0 {
		return errors.New("OTP Skew and HOTPWindow must be >= 0")
	}
	if c.OTP.ProvisionValidity <= 0 {
		return errors.New("OTP ProvisionValidity must be > 0")
	}
	if c.OTP.MaxAttempts < 0 || c.OTP.AttemptCooldown < 0 {
		return errors.New("OTP MaxAttempts and AttemptCooldown must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.DrainTimeout < 0 {
		return errors.New("Audit DrainTimeout must be >= 0")
	}

	// Cache
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return errors.New("Cache TTL must be > 0")
	}

	return nil
}

func (c *Config) ratePolicyPeriods() []time.Duration {
	return []time.Duration{
		c.RateLimit.Login.Period,
		c.RateLimit.Register.Period,
		c.RateLimit.ChangePassword.Period,
		c.RateLimit.Default.Period,
	}
}
