package keyward

import (
	"context"
	"log/slog"
	"time"

	internalaudit "github.com/thisjowi/keyward/internal/audit"
	"github.com/thisjowi/keyward/internal/limiters"
	"github.com/thisjowi/keyward/internal/rate"
	"github.com/thisjowi/keyward/jwt"
	"github.com/thisjowi/keyward/otp"
	"github.com/thisjowi/keyward/password"
	"github.com/thisjowi/keyward/vault"
)

// Engine is the assembled security core. Build one with [Builder].
//
// Engine instances are immutable after Build and safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	tokens      *jwt.Manager
	hasher      *password.Hasher
	vault       *vault.Vault
	otp         *otp.Manager
	otpLimiter  *limiters.OTPLimiter
	rateLimiter *rate.Limiter
	stopSweeper context.CancelFunc

	identities IdentityStore
	cache      IdentityCache
	entries    EntryStore
	notes      NoteStore
	publisher  EventPublisher

	audit      *internalaudit.Dispatcher
	auditDrain time.Duration
	metrics    *Metrics
}

// Close stops the bucket sweeper and drains the audit dispatcher, waiting at
// most Config.Audit.DrainTimeout. Events still queued after that are counted
// as dropped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopSweeper != nil {
		e.stopSweeper()
	}
	if e.audit == nil {
		return
	}
	ctx := context.Background()
	if e.auditDrain > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.auditDrain)
		defer cancel()
	}
	if err := e.audit.Shutdown(ctx); err != nil {
		e.logger.Warn("audit queue not drained before close", "timeout", e.auditDrain, "error", err)
	}
}

// AuditDropped returns the number of audit events that never reached the
// sink.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot returns a copy of all counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// IssueToken signs a bearer token for identityID. display is carried as the
// email claim.
func (e *Engine) IssueToken(identityID int64, display string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	token, err := e.tokens.Issue(identityID, display)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricTokenIssued)
	return token, nil
}

// VerifyBearer resolves the identity of an Authorization header value. A
// missing header, a malformed header and an invalid token all yield (0, false).
func (e *Engine) VerifyBearer(header string) (int64, bool) {
	if e == nil || e.tokens == nil {
		return 0, false
	}
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	id, ok := e.verifyBearer(header)

	if !start.IsZero() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if !ok {
		e.metricInc(MetricTokenRejected)
	}
	return id, ok
}

func (e *Engine) verifyBearer(header string) (int64, bool) {
	token, ok := jwt.BearerToken(header)
	if !ok {
		return 0, false
	}
	return e.tokens.Verify(token)
}

// backfillRecorder counts and audits LegacyPlaintext fallbacks before handing
// them to the configured recorder.
type backfillRecorder struct {
	engine *Engine
	next   vault.BackfillRecorder
}

func (r *backfillRecorder) RecordFallback(ctx context.Context, f vault.Fallback) {
	r.engine.metricInc(MetricDecryptFallback)
	r.engine.emitAudit(ctx, auditEventDecryptFallback, false, 0, f.Cause, func() map[string]string {
		return map[string]string{
			"record": f.Record,
			"field":  f.Field,
		}
	})
	if r.next != nil {
		r.next.RecordFallback(ctx, f)
	}
}
