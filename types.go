package keyward

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/thisjowi/keyward/internal/audit"
	internalmetrics "github.com/thisjowi/keyward/internal/metrics"
	"github.com/thisjowi/keyward/internal/stores"
	"github.com/thisjowi/keyward/otp"
	"github.com/thisjowi/keyward/vault"
)

// Identity is a stored identity. PasswordHash is an opaque PHC or bcrypt
// string and never leaves the engine.
type Identity = stores.Identity

// IdentityStore persists identities. Lookups return ErrNotFound for a missing
// identity.
type IdentityStore interface {
	GetIdentityByID(ctx context.Context, id int64) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	// CreateIdentity returns ErrIdentityExists when email is taken.
	CreateIdentity(ctx context.Context, email, passwordHash string) (Identity, error)
	// UpdatePasswordHash replaces the hash in a single transaction and
	// returns ErrNotFound when no row changed.
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
	// DeleteIdentity returns ErrNotFound when no row was removed.
	DeleteIdentity(ctx context.Context, id int64) error
}

// IdentityCache memoizes identity lookups by id and by email. Invalidate is
// part of every password hash write.
type IdentityCache interface {
	GetByID(ctx context.Context, id int64) (Identity, bool, error)
	GetByEmail(ctx context.Context, email string) (Identity, bool, error)
	Put(ctx context.Context, ident Identity) error
	Invalidate(ctx context.Context, id int64, email string) error
}

// OTPStore persists sealed OTP records.
type OTPStore = otp.Store

// EntryStore persists sealed password-manager entries. Get returns ErrNotFound
// for a missing row.
type EntryStore interface {
	InsertEntry(ctx context.Context, e vault.Entry) (vault.Entry, error)
	GetEntry(ctx context.Context, id int64) (vault.Entry, error)
	ListEntriesByOwner(ctx context.Context, ownerID int64) ([]vault.Entry, error)
	UpdateEntry(ctx context.Context, e vault.Entry) error
	DeleteEntry(ctx context.Context, id int64) error
}

// NoteStore persists sealed notes. Get returns ErrNotFound for a missing row.
type NoteStore interface {
	InsertNote(ctx context.Context, n vault.Note) (vault.Note, error)
	GetNote(ctx context.Context, id int64) (vault.Note, error)
	ListNotesByOwner(ctx context.Context, ownerID int64) ([]vault.Note, error)
	// FindNotesByTitle returns the owner's notes whose title contains fragment,
	// ignoring case, ordered by id.
	FindNotesByTitle(ctx context.Context, ownerID int64, fragment string) ([]vault.Note, error)
	UpdateNote(ctx context.Context, n vault.Note) error
	DeleteNote(ctx context.Context, id int64) error
}

// EventPublisher hands integration events to an external bus. Delivery is at
// least once; consumers must be idempotent.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// NoOpPublisher discards every event.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, string, []byte) error { return nil }

const (
	TopicUserRegistered = "user-registered"
	TopicOTPCreated     = "otp-created"

	EventTypeUserRegistered = "USER_REGISTERED"
	EventTypeOTPCreated     = "OTP_CREATED"
)

// UserRegisteredEvent is published after Register and consumed by
// HandleUserRegistered. Timestamp is epoch milliseconds.
type UserRegisteredEvent struct {
	OwnerID   int64  `json:"ownerId"`
	Email     string `json:"email"`
	EventType string `json:"eventType"`
	Timestamp int64  `json:"timestamp"`
}

// OTPCreatedEvent is published when a new OTP secret is stored. Timestamps
// are epoch milliseconds.
type OTPCreatedEvent struct {
	OTPID     int64  `json:"otpId"`
	OwnerID   int64  `json:"ownerId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	EventType string `json:"eventType"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expiresAt"`
}

// PasswordChangeResult is the outcome of ChangePassword. Err is nil on
// success; otherwise it wraps one of ErrWeakSecret, ErrSecretMismatch,
// ErrSecretReuse, ErrNotFound. Message is safe to show to the caller.
type PasswordChangeResult struct {
	Success bool
	Err     error
	Message string
}

// RateDecision is the outcome of CheckRate.
type RateDecision struct {
	Allowed    bool
	Class      string
	Remaining  int
	RetryAfter time.Duration
}

// OTPRequest describes a new OTP secret. Zero fields take configured defaults.
type OTPRequest struct {
	Name      string
	Type      string
	Seed      string
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
}

// OTPSecret is the caller-facing view of an OTP secret, including its
// otpauth:// provisioning URI.
type OTPSecret struct {
	otp.Secret
	URI string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink]. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricTokenIssued                  = internalmetrics.MetricTokenIssued
	MetricTokenRejected                = internalmetrics.MetricTokenRejected
	MetricRateLimitHit                 = internalmetrics.MetricRateLimitHit
	MetricRateLimitStoreError          = internalmetrics.MetricRateLimitStoreError
	MetricLoginSuccess                 = internalmetrics.MetricLoginSuccess
	MetricLoginFailure                 = internalmetrics.MetricLoginFailure
	MetricRegisterSuccess              = internalmetrics.MetricRegisterSuccess
	MetricRegisterDuplicate            = internalmetrics.MetricRegisterDuplicate
	MetricPasswordChangeSuccess        = internalmetrics.MetricPasswordChangeSuccess
	MetricPasswordChangeWeak           = internalmetrics.MetricPasswordChangeWeak
	MetricPasswordChangeMismatch       = internalmetrics.MetricPasswordChangeMismatch
	MetricPasswordChangeInvalidCurrent = internalmetrics.MetricPasswordChangeInvalidCurrent
	MetricPasswordChangeReuseRejected  = internalmetrics.MetricPasswordChangeReuseRejected
	MetricPasswordRehashed             = internalmetrics.MetricPasswordRehashed
	MetricOTPCreated                   = internalmetrics.MetricOTPCreated
	MetricOTPDeduplicated              = internalmetrics.MetricOTPDeduplicated
	MetricOTPProvisioned               = internalmetrics.MetricOTPProvisioned
	MetricOTPValidateSuccess           = internalmetrics.MetricOTPValidateSuccess
	MetricOTPValidateFailure           = internalmetrics.MetricOTPValidateFailure
	MetricOTPRateLimited               = internalmetrics.MetricOTPRateLimited
	MetricDecryptFallback              = internalmetrics.MetricDecryptFallback
	MetricEventPublishFailure          = internalmetrics.MetricEventPublishFailure
	MetricVerifyLatency                = internalmetrics.MetricVerifyLatency
)

// Metrics holds atomic counters and the optional verification latency
// histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] configured by cfg. When Enabled is false,
// all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
