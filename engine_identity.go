package keyward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/thisjowi/keyward/internal/stores"
	"github.com/thisjowi/keyward/jwt"
	"github.com/thisjowi/keyward/password"
)

// Register creates an identity and publishes USER_REGISTERED. The secret must
// pass the strength policy. A publish failure is logged and counted but does
// not fail the registration.
func (e *Engine) Register(ctx context.Context, email, secret string) (int64, error) {
	if e == nil || e.identities == nil || e.hasher == nil {
		return 0, ErrEngineNotReady
	}
	email = stores.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		e.emitAudit(ctx, auditEventRegisterFailure, false, 0, ErrInvalidRequest, func() map[string]string {
			return map[string]string{"reason": "invalid_email"}
		})
		return 0, fmt.Errorf("%w: email required", ErrInvalidRequest)
	}
	if err := password.CheckStrength(secret); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, 0, err, nil)
		return 0, err
	}

	hash, err := e.hasher.Hash(secret)
	if err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, 0, err, func() map[string]string {
			return map[string]string{"reason": "hash_failed"}
		})
		return 0, err
	}

	ident, err := e.identities.CreateIdentity(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, 0, err, nil)
			return 0, ErrIdentityExists
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, 0, err, func() map[string]string {
			return map[string]string{"reason": "create_failed"}
		})
		return 0, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, ident.ID, nil, nil)

	e.publish(ctx, TopicUserRegistered, ident.ID, UserRegisteredEvent{
		OwnerID:   ident.ID,
		Email:     ident.Email,
		EventType: EventTypeUserRegistered,
		Timestamp: e.now().UnixMilli(),
	})

	return ident.ID, nil
}

// Login verifies email and secret and returns a bearer token. Unknown emails
// and wrong secrets both return ErrInvalidCredentials. Legacy bcrypt hashes and
// argon2id hashes with weaker parameters are replaced after a successful
// verification. The hash is always read from the identity store; the cache is
// refreshed afterwards but never consulted for credentials.
func (e *Engine) Login(ctx context.Context, email, secret string) (string, error) {
	if e == nil || e.identities == nil || e.hasher == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}

	ident, err := e.identities.GetIdentityByEmail(ctx, stores.NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, 0, ErrInvalidCredentials, nil)
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	e.cacheIdentity(ctx, ident)

	ok, err := e.hasher.Verify(secret, ident.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			e.logger.WarnContext(ctx, "stored password hash could not be verified",
				"identity_id", ident.ID,
				"error", err,
			)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, ident.ID, ErrInvalidCredentials, nil)
		return "", ErrInvalidCredentials
	}

	if e.hasher.NeedsUpgrade(ident.PasswordHash) {
		e.rehash(ctx, ident, secret)
	}

	token, err := e.IssueToken(ident.ID, ident.Email)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, ident.ID, nil, nil)
	return token, nil
}

// rehash replaces a legacy hash. Failures are logged; the login proceeds.
func (e *Engine) rehash(ctx context.Context, ident Identity, secret string) {
	hash, err := e.hasher.Hash(secret)
	if err == nil {
		err = e.identities.UpdatePasswordHash(ctx, ident.ID, hash)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "identity_id", ident.ID, "error", err)
		return
	}
	e.dropCachedIdentity(ctx, ident)
	e.metricInc(MetricPasswordRehashed)
	e.emitAudit(ctx, auditEventPasswordRehashed, true, ident.ID, nil, nil)
}

// DeleteIdentity removes identity id. The identity behind token must be id
// itself, otherwise ErrForbidden. Cached copies are dropped before and after
// the delete; the delete is not attempted when the first drop fails. Tokens
// issued to the identity stay verifiable until they expire.
func (e *Engine) DeleteIdentity(ctx context.Context, token string, id int64) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	caller, err := e.identityFromToken(token)
	if err != nil {
		e.emitAudit(ctx, auditEventTokenRejected, false, 0, err, func() map[string]string {
			return map[string]string{"operation": "delete_identity"}
		})
		return err
	}
	if caller != id {
		e.emitAudit(ctx, auditEventAccessDenied, false, caller, ErrForbidden, idMetadata("identity_id", id))
		return ErrForbidden
	}

	ident, err := e.identityByID(ctx, id)
	if err != nil {
		return err
	}
	if err := e.invalidateIdentity(ctx, ident); err != nil {
		return err
	}
	if err := e.identities.DeleteIdentity(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete identity %d: %w", id, err)
	}
	e.dropCachedIdentity(ctx, ident)

	e.emitAudit(ctx, auditEventIdentityDeleted, true, id, nil, nil)
	return nil
}

// identityFromToken resolves a raw token or an Authorization header value.
func (e *Engine) identityFromToken(token string) (int64, error) {
	if e == nil || e.tokens == nil {
		return 0, ErrEngineNotReady
	}
	if raw, ok := jwt.BearerToken(token); ok {
		token = raw
	}
	id, ok := e.tokens.Verify(token)
	if !ok {
		e.metricInc(MetricTokenRejected)
		return 0, ErrInvalidToken
	}
	return id, nil
}

func (e *Engine) identityByID(ctx context.Context, id int64) (Identity, error) {
	if e.cache != nil {
		ident, ok, err := e.cache.GetByID(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "identity cache read failed", "identity_id", id, "error", err)
		} else if ok {
			return ident, nil
		}
	}
	ident, err := e.identities.GetIdentityByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	e.cacheIdentity(ctx, ident)
	return ident, nil
}

func (e *Engine) cacheIdentity(ctx context.Context, ident Identity) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, ident); err != nil {
		e.logger.WarnContext(ctx, "identity cache write failed", "identity_id", ident.ID, "error", err)
	}
}

func (e *Engine) invalidateIdentity(ctx context.Context, ident Identity) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Invalidate(ctx, ident.ID, ident.Email); err != nil {
		return fmt.Errorf("invalidate identity %d: %w", ident.ID, err)
	}
	return nil
}

// dropCachedIdentity is the post-commit invalidation. A failure here leaves a
// stale entry behind, which credential checks never read.
func (e *Engine) dropCachedIdentity(ctx context.Context, ident Identity) {
	if err := e.invalidateIdentity(ctx, ident); err != nil {
		e.logger.WarnContext(ctx, "identity cache invalidation failed", "identity_id", ident.ID, "error", err)
	}
}

// publish encodes v and hands it to the publisher. Delivery is best-effort.
func (e *Engine) publish(ctx context.Context, topic string, identityID int64, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = e.publisher.Publish(ctx, topic, payload)
	}
	if err == nil {
		return
	}
	e.logger.WarnContext(ctx, "event publish failed", "topic", topic, "identity_id", identityID, "error", err)
	e.metricInc(MetricEventPublishFailure)
	e.emitAudit(ctx, auditEventEventPublishFailed, false, identityID, err, func() map[string]string {
		return map[string]string{"topic": topic}
	})
}
