package keyward

import (
	"context"
	"errors"
	"fmt"

	"github.com/thisjowi/keyward/password"
)

const (
	msgPasswordChanged       = "Password changed successfully"
	msgPasswordConfirmFailed = "New password and confirmation do not match"
	msgPasswordReuse         = "New password cannot be the same as current password"
	msgPasswordCurrentWrong  = "Current password is incorrect"
	msgIdentityNotFound      = "User not found"
	msgPasswordChangeFailed  = "An error occurred while changing password"
)

// ChangePassword replaces the password of the identity behind token.
//
// The returned error is non-nil only for an invalid token (ErrInvalidToken) or
// an unconfigured engine. Every other outcome is reported in the result, and
// no stored data changes unless Success is true.
//
// An empty current skips the current-password checks. Such changes are
// audited as password_change_without_current.
func (e *Engine) ChangePassword(ctx context.Context, token, current, newSecret, confirm string) (PasswordChangeResult, error) {
	if e == nil || e.identities == nil || e.hasher == nil {
		return PasswordChangeResult{}, ErrEngineNotReady
	}

	// 1. identity
	identityID, err := e.identityFromToken(token)
	if err != nil {
		e.emitAudit(ctx, auditEventTokenRejected, false, 0, err, func() map[string]string {
			return map[string]string{"operation": "change_password"}
		})
		return PasswordChangeResult{}, err
	}

	// 2. strength
	if err := password.CheckStrength(newSecret); err != nil {
		e.metricInc(MetricPasswordChangeWeak)
		e.emitAudit(ctx, auditEventPasswordChangeWeak, false, identityID, err, nil)
		return failedChange(err, err.Error()), nil
	}

	// 3. confirmation
	if newSecret != confirm {
		e.metricInc(MetricPasswordChangeMismatch)
		e.emitAudit(ctx, auditEventPasswordChangeMismatch, false, identityID, ErrSecretMismatch, nil)
		return failedChange(ErrSecretMismatch, msgPasswordConfirmFailed), nil
	}

	ident, err := e.identities.GetIdentityByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, ErrNotFound, func() map[string]string {
			return map[string]string{"reason": "identity_not_found"}
		})
		return failedChange(ErrNotFound, msgIdentityNotFound), nil
	}
	if err != nil {
		return e.changeFailed(ctx, identityID, "identity_lookup_failed", err), nil
	}

	// 4. current password
	if current != "" {
		if current == newSecret {
			e.metricInc(MetricPasswordChangeReuseRejected)
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, identityID, ErrSecretReuse, nil)
			return failedChange(ErrSecretReuse, msgPasswordReuse), nil
		}
		ok, err := e.hasher.Verify(current, ident.PasswordHash)
		if err != nil || !ok {
			e.metricInc(MetricPasswordChangeInvalidCurrent)
			e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, identityID, ErrSecretMismatch, nil)
			return failedChange(ErrSecretMismatch, msgPasswordCurrentWrong), nil
		}
	}

	// 5. invalidate, write, invalidate again
	hash, err := e.hasher.Hash(newSecret)
	if err != nil {
		return e.changeFailed(ctx, identityID, "hash_failed", err), nil
	}
	if err := e.invalidateIdentity(ctx, ident); err != nil {
		return e.changeFailed(ctx, identityID, "cache_invalidation_failed", err), nil
	}
	if err := e.identities.UpdatePasswordHash(ctx, identityID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, ErrNotFound, func() map[string]string {
				return map[string]string{"reason": "identity_not_found"}
			})
			return failedChange(ErrNotFound, msgIdentityNotFound), nil
		}
		return e.changeFailed(ctx, identityID, "update_hash_failed", err), nil
	}
	e.dropCachedIdentity(ctx, ident)

	if current == "" {
		e.emitAudit(ctx, auditEventPasswordChangeUnverified, true, identityID, nil, nil)
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, identityID, nil, nil)

	return PasswordChangeResult{Success: true, Message: msgPasswordChanged}, nil
}

func failedChange(err error, message string) PasswordChangeResult {
	return PasswordChangeResult{Err: err, Message: message}
}

func (e *Engine) changeFailed(ctx context.Context, identityID int64, reason string, err error) PasswordChangeResult {
	e.logger.ErrorContext(ctx, "password change failed",
		"identity_id", identityID,
		"reason", reason,
		"error", err,
	)
	e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return failedChange(fmt.Errorf("change password: %w", err), msgPasswordChangeFailed)
}
