package keyward

import (
	"context"
	"errors"
	"strconv"

	internalaudit "github.com/thisjowi/keyward/internal/audit"
	"github.com/thisjowi/keyward/otp"
)

const (
	auditEventTokenRejected            = "token_rejected"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventRateLimitUnavailable     = "rate_limit_unavailable"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventPasswordRehashed         = "password_rehashed"
	auditEventIdentityDeleted          = "identity_deleted"
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventRegisterDuplicate        = "register_duplicate"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeWeak       = "password_change_weak"
	auditEventPasswordChangeMismatch   = "password_change_mismatch"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_current"
	auditEventPasswordChangeUnverified = "password_change_without_current"
	auditEventPasswordChangeFailure    = "password_change_failure"
	auditEventOTPCreated               = "otp_created"
	auditEventOTPDeduplicated          = "otp_deduplicated"
	auditEventOTPProvisioned           = "otp_provisioned"
	auditEventOTPValidateSuccess       = "otp_validate_success"
	auditEventOTPValidateFailure       = "otp_validate_failure"
	auditEventOTPRateLimited           = "otp_rate_limited"
	auditEventOTPInvalidated           = "otp_invalidated"
	auditEventOTPUpdated               = "otp_updated"
	auditEventOTPDeleted               = "otp_deleted"
	auditEventAccessDenied             = "access_denied"
	auditEventDecryptFallback          = "decrypt_fallback"
	auditEventEventPublishFailed       = "event_publish_failed"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrWeakSecret         AuditErrorCode = "weak_secret"
	auditErrSecretMismatch     AuditErrorCode = "secret_mismatch"
	auditErrSecretReuse        AuditErrorCode = "secret_reuse"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrDecrypt            AuditErrorCode = "decrypt_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID int64,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, class, source string, err error) {
	eventType := auditEventRateLimitTriggered
	if errors.Is(err, ErrRateLimited) {
		e.metricInc(MetricRateLimitHit)
	} else {
		e.metricInc(MetricRateLimitStoreError)
		eventType = auditEventRateLimitUnavailable
	}
	e.emitAudit(ctx, eventType, false, 0, err, func() map[string]string {
		return map[string]string{
			"class":  class,
			"source": source,
		}
	})
}

// mustDeliverAudit lists the event types that wait for buffer space instead
// of being dropped under backpressure.
func mustDeliverAudit(eventType string) bool {
	switch eventType {
	case auditEventPasswordChangeSuccess,
		auditEventPasswordChangeUnverified,
		auditEventIdentityDeleted,
		auditEventAccessDenied:
		return true
	}
	return false
}

func (e *Engine) auditDropped(ev internalaudit.Event, reason internalaudit.DropReason) {
	if !mustDeliverAudit(ev.EventType) {
		return
	}
	e.logger.Warn("security audit event lost",
		"event_type", ev.EventType,
		"identity_id", ev.IdentityID,
		"reason", string(reason),
	)
}

func idMetadata(key string, id int64) func() map[string]string {
	return func() map[string]string {
		return map[string]string{key: strconv.FormatInt(id, 10)}
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrOTPRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRateLimitUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrWeakSecret):
		return auditErrWeakSecret
	case errors.Is(err, ErrSecretMismatch):
		return auditErrSecretMismatch
	case errors.Is(err, ErrSecretReuse):
		return auditErrSecretReuse
	case errors.Is(err, ErrNotFound),
		errors.Is(err, otp.ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrForbidden),
		errors.Is(err, otp.ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrIdentityExists):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, otp.ErrInvalidRequest),
		errors.Is(err, otp.ErrUnsupportedAlgorithm):
		return auditErrInvalidRequest
	case errors.Is(err, ErrMalformedCiphertext),
		errors.Is(err, ErrDecryptionFailed):
		return auditErrDecrypt
	default:
		return auditErrInternal
	}
}
