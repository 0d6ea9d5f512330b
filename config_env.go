package keyward

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// keywardEnv holds raw env values. Defaults mirror DefaultConfig.
type keywardEnv struct {
	TokenSecret       string            `env:"KEYWARD_TOKEN_SECRET"`
	TokenTTL          time.Duration     `env:"KEYWARD_TOKEN_TTL"              envDefault:"24h"`
	TokenIssuer       string            `env:"KEYWARD_TOKEN_ISSUER"`
	TokenKeyID        string            `env:"KEYWARD_TOKEN_KEY_ID"`
	TokenPreviousKeys map[string]string `env:"KEYWARD_TOKEN_PREVIOUS_KEYS"    envSeparator:","  envKeyValSeparator:":"`
	TokenMaxFutureIAT time.Duration     `env:"KEYWARD_TOKEN_MAX_FUTURE_IAT"   envDefault:"1m"`

	EnvelopeSecret string `env:"KEYWARD_ENVELOPE_SECRET"`
	EnvelopeMode   string `env:"KEYWARD_ENVELOPE_MODE"          envDefault:"gcm"`
	EnvelopeKDF    string `env:"KEYWARD_ENVELOPE_KDF"           envDefault:"sha256"`

	PasswordMemory      uint32 `env:"KEYWARD_PASSWORD_MEMORY_KB"     envDefault:"65536"`
	PasswordTime        uint32 `env:"KEYWARD_PASSWORD_TIME"          envDefault:"3"`
	PasswordParallelism uint8  `env:"KEYWARD_PASSWORD_PARALLELISM"   envDefault:"2"`
	PasswordSaltLength  uint32 `env:"KEYWARD_PASSWORD_SALT_LENGTH"   envDefault:"16"`
	PasswordKeyLength   uint32 `env:"KEYWARD_PASSWORD_KEY_LENGTH"    envDefault:"32"`

	RateEnabled                bool          `env:"KEYWARD_RATE_ENABLED"                 envDefault:"true"`
	RateBackend                string        `env:"KEYWARD_RATE_BACKEND"                 envDefault:"memory"`
	RateRedisPrefix            string        `env:"KEYWARD_RATE_REDIS_PREFIX"            envDefault:"rl"`
	RateLoginCapacity          int           `env:"KEYWARD_RATE_LOGIN_CAPACITY"          envDefault:"5"`
	RateLoginPeriod            time.Duration `env:"KEYWARD_RATE_LOGIN_PERIOD"            envDefault:"1m"`
	RateRegisterCapacity       int           `env:"KEYWARD_RATE_REGISTER_CAPACITY"       envDefault:"3"`
	RateRegisterPeriod         time.Duration `env:"KEYWARD_RATE_REGISTER_PERIOD"         envDefault:"1m"`
	RateChangePasswordCapacity int           `env:"KEYWARD_RATE_CHANGE_PASSWORD_CAPACITY" envDefault:"3"`
	RateChangePasswordPeriod   time.Duration `env:"KEYWARD_RATE_CHANGE_PASSWORD_PERIOD"  envDefault:"1m"`
	RateDefaultCapacity        int           `env:"KEYWARD_RATE_DEFAULT_CAPACITY"        envDefault:"100"`
	RateDefaultPeriod          time.Duration `env:"KEYWARD_RATE_DEFAULT_PERIOD"          envDefault:"1m"`
	RateSweepInterval          time.Duration `env:"KEYWARD_RATE_SWEEP_INTERVAL"          envDefault:"1m"`
	RateIdleEviction           time.Duration `env:"KEYWARD_RATE_IDLE_EVICTION"`

	OTPIssuer            string        `env:"KEYWARD_OTP_ISSUER"             envDefault:"keyward"`
	OTPDigits            int           `env:"KEYWARD_OTP_DIGITS"             envDefault:"6"`
	OTPPeriod            int           `env:"KEYWARD_OTP_PERIOD"             envDefault:"30"`
	OTPAlgorithm         string        `env:"KEYWARD_OTP_ALGORITHM"          envDefault:"SHA1"`
	OTPSkew              int           `env:"KEYWARD_OTP_SKEW"               envDefault:"1"`
	OTPHOTPWindow        int           `env:"KEYWARD_OTP_HOTP_WINDOW"        envDefault:"10"`
	OTPProvisionValidity time.Duration `env:"KEYWARD_OTP_PROVISION_VALIDITY" envDefault:"720h"`
	OTPAutoProvision     bool          `env:"KEYWARD_OTP_AUTO_PROVISION"     envDefault:"true"`
	OTPMaxAttempts       int           `env:"KEYWARD_OTP_MAX_ATTEMPTS"       envDefault:"5"`
	OTPAttemptCooldown   time.Duration `env:"KEYWARD_OTP_ATTEMPT_COOLDOWN"   envDefault:"1m"`

	AuditEnabled      bool          `env:"KEYWARD_AUDIT_ENABLED"       envDefault:"true"`
	AuditBufferSize   int           `env:"KEYWARD_AUDIT_BUFFER_SIZE"   envDefault:"1024"`
	AuditDropIfFull   bool          `env:"KEYWARD_AUDIT_DROP_IF_FULL"  envDefault:"true"`
	AuditDrainTimeout time.Duration `env:"KEYWARD_AUDIT_DRAIN_TIMEOUT" envDefault:"5s"`

	MetricsEnabled bool `env:"KEYWARD_METRICS_ENABLED"  envDefault:"true"`
	MetricsLatency bool `env:"KEYWARD_METRICS_LATENCY"`

	CacheEnabled     bool          `env:"KEYWARD_CACHE_ENABLED"      envDefault:"true"`
	CacheTTL         time.Duration `env:"KEYWARD_CACHE_TTL"          envDefault:"10m"`
	CacheRedisPrefix string        `env:"KEYWARD_CACHE_REDIS_PREFIX" envDefault:"idc"`
}

// LoadConfigFromEnv builds a Config from KEYWARD_* environment variables and
// validates it.
func LoadConfigFromEnv() (Config, error) {
	var raw keywardEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		Token: TokenConfig{
			Secret:       raw.TokenSecret,
			TTL:          raw.TokenTTL,
			Issuer:       raw.TokenIssuer,
			KeyID:        raw.TokenKeyID,
			PreviousKeys: raw.TokenPreviousKeys,
			MaxFutureIAT: raw.TokenMaxFutureIAT,
		},
		Envelope: EnvelopeConfig{
			Secret: raw.EnvelopeSecret,
			Mode:   raw.EnvelopeMode,
			KDF:    raw.EnvelopeKDF,
		},
		Password: PasswordConfig{
			Memory:      raw.PasswordMemory,
			Time:        raw.PasswordTime,
			Parallelism: raw.PasswordParallelism,
			SaltLength:  raw.PasswordSaltLength,
			KeyLength:   raw.PasswordKeyLength,
		},
		RateLimit: RateLimitConfig{
			Enabled:        raw.RateEnabled,
			Backend:        raw.RateBackend,
			RedisPrefix:    raw.RateRedisPrefix,
			Login:          RatePolicy{Capacity: raw.RateLoginCapacity, Period: raw.RateLoginPeriod},
			Register:       RatePolicy{Capacity: raw.RateRegisterCapacity, Period: raw.RateRegisterPeriod},
			ChangePassword: RatePolicy{Capacity: raw.RateChangePasswordCapacity, Period: raw.RateChangePasswordPeriod},
			Default:        RatePolicy{Capacity: raw.RateDefaultCapacity, Period: raw.RateDefaultPeriod},
			SweepInterval:  raw.RateSweepInterval,
			IdleEviction:   raw.RateIdleEviction,
		},
		OTP: OTPConfig{
			Issuer:            raw.OTPIssuer,
			Digits:            raw.OTPDigits,
			Period:            raw.OTPPeriod,
			Algorithm:         raw.OTPAlgorithm,
			Skew:              raw.OTPSkew,
			HOTPWindow:        raw.OTPHOTPWindow,
			ProvisionValidity: raw.OTPProvisionValidity,
			AutoProvision:     raw.OTPAutoProvision,
			MaxAttempts:       raw.OTPMaxAttempts,
			AttemptCooldown:   raw.OTPAttemptCooldown,
		},
		Audit: AuditConfig{
			Enabled:      raw.AuditEnabled,
			BufferSize:   raw.AuditBufferSize,
			DropIfFull:   raw.AuditDropIfFull,
			DrainTimeout: raw.AuditDrainTimeout,
		},
		Metrics: MetricsConfig{
			Enabled:                 raw.MetricsEnabled,
			EnableLatencyHistograms: raw.MetricsLatency,
		},
		Cache: CacheConfig{
			Enabled:     raw.CacheEnabled,
			TTL:         raw.CacheTTL,
			RedisPrefix: raw.CacheRedisPrefix,
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
