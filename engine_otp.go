package keyward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thisjowi/keyward/internal/limiters"
	"github.com/thisjowi/keyward/otp"
)

// CreateOTP stores a new OTP secret for ownerID. When req.Seed normalizes to
// the seed of one of the owner's valid secrets, that secret is returned
// unchanged and nothing is stored or published.
func (e *Engine) CreateOTP(ctx context.Context, ownerID int64, req OTPRequest) (OTPSecret, error) {
	if e == nil || e.otp == nil {
		return OTPSecret{}, ErrEngineNotReady
	}

	secret, created, err := e.otp.Create(ctx, otp.CreateRequest{
		OwnerID:   ownerID,
		Name:      req.Name,
		Type:      req.Type,
		Seed:      req.Seed,
		Issuer:    req.Issuer,
		Digits:    req.Digits,
		Period:    req.Period,
		Algorithm: req.Algorithm,
	})
	if err != nil {
		return OTPSecret{}, mapOTPError(err)
	}

	if created {
		e.otpCreated(ctx, auditEventOTPCreated, MetricOTPCreated, secret)
	} else {
		e.metricInc(MetricOTPDeduplicated)
		e.emitAudit(ctx, auditEventOTPDeduplicated, true, ownerID, nil, idMetadata("otp_id", secret.ID))
	}
	return otpView(secret), nil
}

// ValidateOTP reports whether code is accepted for secret id. Unknown,
// invalidated and expired secrets yield false. With Redis configured, failed
// attempts per secret are capped and ErrOTPRateLimited is returned once the
// budget is spent.
func (e *Engine) ValidateOTP(ctx context.Context, id int64, code string) (bool, error) {
	if e == nil || e.otp == nil {
		return false, ErrEngineNotReady
	}

	if err := e.otpLimiter.Check(ctx, id); err != nil {
		if errors.Is(err, limiters.ErrOTPRateLimited) {
			e.metricInc(MetricOTPRateLimited)
			e.emitAudit(ctx, auditEventOTPRateLimited, false, 0, ErrOTPRateLimited, idMetadata("otp_id", id))
			return false, ErrOTPRateLimited
		}
		return false, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}

	ok, err := e.otp.Validate(ctx, id, code)
	if err != nil {
		return false, mapOTPError(err)
	}

	if !ok {
		if err := e.otpLimiter.RecordFailure(ctx, id); err != nil {
			e.logger.WarnContext(ctx, "otp failure not recorded", "otp_id", id, "error", err)
		}
		e.metricInc(MetricOTPValidateFailure)
		e.emitAudit(ctx, auditEventOTPValidateFailure, false, 0, nil, idMetadata("otp_id", id))
		return false, nil
	}

	if err := e.otpLimiter.Reset(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "otp attempt counter not reset", "otp_id", id, "error", err)
	}
	e.metricInc(MetricOTPValidateSuccess)
	e.emitAudit(ctx, auditEventOTPValidateSuccess, true, 0, nil, idMetadata("otp_id", id))
	return true, nil
}

// GetOTP returns secret id if ownerID owns it.
func (e *Engine) GetOTP(ctx context.Context, ownerID, id int64) (OTPSecret, error) {
	if e == nil || e.otp == nil {
		return OTPSecret{}, ErrEngineNotReady
	}
	s, err := e.otp.Get(ctx, ownerID, id)
	if err != nil {
		return OTPSecret{}, mapOTPError(err)
	}
	return otpView(s), nil
}

// ListOTP returns every secret of ownerID.
func (e *Engine) ListOTP(ctx context.Context, ownerID int64) ([]OTPSecret, error) {
	if e == nil || e.otp == nil {
		return nil, ErrEngineNotReady
	}
	secrets, err := e.otp.List(ctx, ownerID)
	if err != nil {
		return nil, mapOTPError(err)
	}
	out := make([]OTPSecret, 0, len(secrets))
	for _, s := range secrets {
		out = append(out, otpView(s))
	}
	return out, nil
}

// InvalidateOTP clears the validity flag of a secret owned by ownerID.
func (e *Engine) InvalidateOTP(ctx context.Context, ownerID, id int64) error {
	if e == nil || e.otp == nil {
		return ErrEngineNotReady
	}
	if err := e.otp.Invalidate(ctx, ownerID, id); err != nil {
		err = mapOTPError(err)
		if errors.Is(err, ErrForbidden) {
			e.emitAudit(ctx, auditEventAccessDenied, false, ownerID, err, idMetadata("otp_id", id))
		}
		return err
	}
	e.emitAudit(ctx, auditEventOTPInvalidated, true, ownerID, nil, idMetadata("otp_id", id))
	return nil
}

// UpdateOTP changes a secret owned by ownerID. Zero request fields keep the
// stored value; the seed is sealed again on every update.
func (e *Engine) UpdateOTP(ctx context.Context, ownerID, id int64, req OTPRequest) (OTPSecret, error) {
	if e == nil || e.otp == nil {
		return OTPSecret{}, ErrEngineNotReady
	}
	s, err := e.otp.Update(ctx, ownerID, id, otp.UpdateRequest{
		Name:      req.Name,
		Type:      req.Type,
		Seed:      req.Seed,
		Issuer:    req.Issuer,
		Digits:    req.Digits,
		Period:    req.Period,
		Algorithm: req.Algorithm,
	})
	if err != nil {
		err = mapOTPError(err)
		if errors.Is(err, ErrForbidden) {
			e.emitAudit(ctx, auditEventAccessDenied, false, ownerID, err, idMetadata("otp_id", id))
		}
		return OTPSecret{}, err
	}
	e.emitAudit(ctx, auditEventOTPUpdated, true, ownerID, nil, idMetadata("otp_id", id))
	return otpView(s), nil
}

// DeleteOTP removes a secret owned by ownerID.
func (e *Engine) DeleteOTP(ctx context.Context, ownerID, id int64) error {
	if e == nil || e.otp == nil {
		return ErrEngineNotReady
	}
	if err := e.otp.Delete(ctx, ownerID, id); err != nil {
		err = mapOTPError(err)
		if errors.Is(err, ErrForbidden) {
			e.emitAudit(ctx, auditEventAccessDenied, false, ownerID, err, idMetadata("otp_id", id))
		}
		return err
	}
	e.emitAudit(ctx, auditEventOTPDeleted, true, ownerID, nil, idMetadata("otp_id", id))
	return nil
}

// HandleUserRegistered consumes a USER_REGISTERED payload and provisions a
// TOTP secret named after the email. Other event types are ignored. Duplicate
// and out-of-order deliveries are harmless: an owner that already has a valid
// secret of that name gets no second one.
func (e *Engine) HandleUserRegistered(ctx context.Context, payload []byte) error {
	if e == nil || e.otp == nil {
		return ErrEngineNotReady
	}

	var ev UserRegisteredEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: decode event: %v", ErrInvalidRequest, err)
	}
	if ev.EventType != EventTypeUserRegistered {
		e.logger.DebugContext(ctx, "ignoring event", "event_type", ev.EventType)
		return nil
	}
	if ev.OwnerID <= 0 {
		return fmt.Errorf("%w: event without owner id", ErrInvalidRequest)
	}
	if !e.config.OTP.AutoProvision {
		return nil
	}

	secret, created, err := e.otp.Provision(ctx, ev.OwnerID, ev.Email)
	if err != nil {
		return mapOTPError(err)
	}
	if !created {
		e.logger.DebugContext(ctx, "otp secret already provisioned", "owner_id", ev.OwnerID, "otp_id", secret.ID)
		return nil
	}
	e.otpCreated(ctx, auditEventOTPProvisioned, MetricOTPProvisioned, secret)
	return nil
}

func (e *Engine) otpCreated(ctx context.Context, eventType string, metric MetricID, s otp.Secret) {
	e.metricInc(metric)
	e.emitAudit(ctx, eventType, true, s.OwnerID, nil, func() map[string]string {
		return map[string]string{
			"otp_id": fmt.Sprint(s.ID),
			"type":   string(s.Type),
		}
	})
	e.publish(ctx, TopicOTPCreated, s.OwnerID, OTPCreatedEvent{
		OTPID:     s.ID,
		OwnerID:   s.OwnerID,
		Name:      s.Name,
		Type:      string(s.Type),
		EventType: EventTypeOTPCreated,
		Timestamp: e.now().UnixMilli(),
		ExpiresAt: s.ExpiresAt.UnixMilli(),
	})
}

func otpView(s otp.Secret) OTPSecret {
	return OTPSecret{Secret: s, URI: otp.ProvisioningURI(s)}
}

// mapOTPError keeps the otp sentinel and adds the matching engine sentinel.
func mapOTPError(err error) error {
	switch {
	case errors.Is(err, otp.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, otp.ErrForbidden):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case errors.Is(err, otp.ErrInvalidRequest),
		errors.Is(err, otp.ErrUnsupportedAlgorithm):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	default:
		return err
	}
}
