package keyward

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thisjowi/keyward/envelope"
	internalaudit "github.com/thisjowi/keyward/internal/audit"
	"github.com/thisjowi/keyward/internal/limiters"
	"github.com/thisjowi/keyward/internal/rate"
	"github.com/thisjowi/keyward/internal/stores"
	"github.com/thisjowi/keyward/jwt"
	"github.com/thisjowi/keyward/otp"
	"github.com/thisjowi/keyward/password"
	"github.com/thisjowi/keyward/vault"
)

// Builder assembles an Engine.
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *slog.Logger
	now    func() time.Time

	identities IdentityStore
	cache      IdentityCache
	otpStore   OTPStore
	entries    EntryStore
	notes      NoteStore
	publisher  EventPublisher
	auditSink  AuditSink
	backfill   vault.BackfillRecorder

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the structured logger. Default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token, OTP, cache and bucket timing.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRedis enables the Redis rate store, the Redis identity cache and the
// OTP attempt limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the identity persistence port used by Register, Login
// and ChangePassword.
func (b *Builder) WithIdentityStore(s IdentityStore) *Builder {
	b.identities = s
	return b
}

// WithIdentityCache overrides the cache chosen from Config.Cache.
func (b *Builder) WithIdentityCache(c IdentityCache) *Builder {
	b.cache = c
	return b
}

// WithOTPStore sets the OTP persistence port. Without it the OTP operations
// return ErrEngineNotReady.
func (b *Builder) WithOTPStore(s OTPStore) *Builder {
	b.otpStore = s
	return b
}

func (b *Builder) WithEntryStore(s EntryStore) *Builder {
	b.entries = s
	return b
}

func (b *Builder) WithNoteStore(s NoteStore) *Builder {
	b.notes = s
	return b
}

// WithEventPublisher sets the bus adapter for integration events.
func (b *Builder) WithEventPublisher(p EventPublisher) *Builder {
	b.publisher = p
	return b
}

// WithAuditSink sets where audit events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithBackfillRecorder receives every field served from stored plaintext.
func (b *Builder) WithBackfillRecorder(r vault.BackfillRecorder) *Builder {
	b.backfill = r
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the VerifyBearer latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil && cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis" {
		return nil, errors.New("RateLimit Backend 'redis' requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	publisher := b.publisher
	if publisher == nil {
		publisher = NoOpPublisher{}
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		logger:     logger,
		now:        now,
		identities: b.identities,
		entries:    b.entries,
		notes:      b.notes,
		publisher:  publisher,
	}
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- ENVELOPE / VAULT --------
	cipher, err := envelope.New(envelope.Config{
		Secret: cfg.Envelope.Secret,
		Mode:   envelope.Mode(cfg.Envelope.Mode),
		KDF:    envelope.KDF(cfg.Envelope.KDF),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	v, err := vault.New(cipher, &backfillRecorder{engine: engine, next: b.backfill}, logger)
	if err != nil {
		return nil, err
	}
	engine.vault = v

	// -------- TOKENS --------
	verifyKeys := make(map[string][]byte, len(cfg.Token.PreviousKeys))
	for kid, secret := range cfg.Token.PreviousKeys {
		verifyKeys[kid] = []byte(secret)
	}
	jm, err := jwt.NewManager(jwt.Config{
		Secret:       []byte(cfg.Token.Secret),
		TTL:          cfg.Token.TTL,
		Issuer:       cfg.Token.Issuer,
		KeyID:        cfg.Token.KeyID,
		VerifyKeys:   verifyKeys,
		MaxFutureIAT: cfg.Token.MaxFutureIAT,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	// -------- IDENTITY CACHE --------
	switch {
	case b.cache != nil:
		engine.cache = b.cache
	case cfg.Cache.Enabled && b.redis != nil:
		engine.cache = stores.NewRedisIdentityCache(b.redis, cfg.Cache.RedisPrefix, cfg.Cache.TTL)
	case cfg.Cache.Enabled:
		engine.cache = stores.NewMemoryIdentityCache(cfg.Cache.TTL, now)
	}

	// -------- OTP --------
	if b.otpStore != nil {
		alg, err := otp.ParseAlgorithm(cfg.OTP.Algorithm)
		if err != nil {
			return nil, err
		}
		om, err := otp.NewManager(b.otpStore, v, otp.Config{
			DefaultIssuer:     cfg.OTP.Issuer,
			DefaultDigits:     cfg.OTP.Digits,
			DefaultPeriod:     cfg.OTP.Period,
			DefaultAlgorithm:  alg,
			Skew:              cfg.OTP.Skew,
			HOTPWindow:        cfg.OTP.HOTPWindow,
			ProvisionValidity: cfg.OTP.ProvisionValidity,
			Now:               now,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		engine.otp = om
	}
	if b.redis != nil && cfg.OTP.MaxAttempts > 0 {
		engine.otpLimiter = limiters.NewOTPLimiter(b.redis, limiters.OTPLimiterConfig{
			MaxAttempts: cfg.OTP.MaxAttempts,
			Cooldown:    cfg.OTP.AttemptCooldown,
		})
	}

	// -------- RATE LIMIT --------
	if cfg.RateLimit.Enabled {
		var store rate.Store
		if cfg.RateLimit.Backend == "redis" {
			store = rate.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
		} else {
			mem := rate.NewMemoryStore(now)
			idle := cfg.RateLimit.IdleEviction
			if idle == 0 {
				for _, p := range cfg.ratePolicyPeriods() {
					if 10*p > idle {
						idle = 10 * p
					}
				}
			}
			ctx, cancel := context.WithCancel(context.Background())
			mem.StartSweeper(ctx, cfg.RateLimit.SweepInterval, idle)
			engine.stopSweeper = cancel
			store = mem
		}
		rl, err := rate.New(store, map[rate.Class]rate.Policy{
			rate.ClassLogin:          ratePolicy(cfg.RateLimit.Login),
			rate.ClassRegister:       ratePolicy(cfg.RateLimit.Register),
			rate.ClassChangePassword: ratePolicy(cfg.RateLimit.ChangePassword),
			rate.ClassDefault:        ratePolicy(cfg.RateLimit.Default),
		}, nil)
		if err != nil {
			if engine.stopSweeper != nil {
				engine.stopSweeper()
			}
			return nil, err
		}
		engine.rateLimiter = rl
	}

	// -------- AUDIT (after every fallible step) --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		MustDeliver: mustDeliverAudit,
		OnDrop:      engine.auditDropped,
		Now:         now,
	}, b.auditSink)
	engine.auditDrain = cfg.Audit.DrainTimeout

	b.built = true

	return engine, nil
}

func ratePolicy(p RatePolicy) rate.Policy {
	return rate.Policy{Capacity: p.Capacity, Period: p.Period}
}
