package keyward

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/thisjowi/keyward/otp"
)

func currentCode(t *testing.T, s OTPSecret, now time.Time) string {
	t.Helper()
	return otp.Code(otp.KeyFromSeed(s.Seed), otp.TimeStep(now, s.Period), s.Digits, s.Algorithm)
}

func TestCreateOTPGeneratesSeedAndPublishes(t *testing.T) {
	te := newTestEngine(t, nil)

	s, err := te.CreateOTP(context.Background(), 5, OTPRequest{Name: "github"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	if s.ID == 0 || s.Seed == "" || s.Type != otp.TOTP || !s.Valid {
		t.Fatalf("unexpected secret %+v", s.Secret)
	}
	if s.URI == "" {
		t.Fatal("expected provisioning URI")
	}
	if raw := te.otpStore.rows[s.ID].Seed; raw == s.Seed {
		t.Fatal("seed stored in plaintext")
	}

	events := te.publisher.byTopic(TopicOTPCreated)
	if len(events) != 1 {
		t.Fatalf("expected 1 OTP_CREATED event, got %d", len(events))
	}
	var ev OTPCreatedEvent
	if err := json.Unmarshal(events[0].payload, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.OTPID != s.ID || ev.OwnerID != 5 || ev.EventType != EventTypeOTPCreated || ev.ExpiresAt != s.ExpiresAt.UnixMilli() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestCreateOTPNormalizedSeedDeduplicates(t *testing.T) {
	te := newTestEngine(t, nil)

	first, err := te.CreateOTP(context.Background(), 5, OTPRequest{Name: "a", Seed: "ABCD 1234"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	second, err := te.CreateOTP(context.Background(), 5, OTPRequest{Name: "b", Seed: "abcd1234"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the existing record, got %d and %d", first.ID, second.ID)
	}
	if n := te.otpStore.count(); n != 1 {
		t.Fatalf("expected 1 stored record, got %d", n)
	}
	if got := te.metrics.Value(MetricOTPDeduplicated); got != 1 {
		t.Fatalf("expected dedup metric 1, got %d", got)
	}
	if n := len(te.publisher.byTopic(TopicOTPCreated)); n != 1 {
		t.Fatalf("dedup must not publish, got %d events", n)
	}

	// Another owner with the same seed gets its own record.
	if _, err := te.CreateOTP(context.Background(), 6, OTPRequest{Name: "a", Seed: "abcd1234"}); err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	if n := te.otpStore.count(); n != 2 {
		t.Fatalf("expected 2 stored records, got %d", n)
	}
}

func TestCreateOTPInvalidRequest(t *testing.T) {
	te := newTestEngine(t, nil)

	_, err := te.CreateOTP(context.Background(), 5, OTPRequest{Name: "a", Algorithm: "MD5"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !errors.Is(err, otp.ErrUnsupportedAlgorithm) {
		t.Fatalf("expected otp sentinel to be kept, got %v", err)
	}
}

func TestValidateOTPLifecycle(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	s, err := te.CreateOTP(ctx, 5, OTPRequest{Name: "github"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	code := currentCode(t, s, te.clock.Now())

	ok, err := te.ValidateOTP(ctx, s.ID, code)
	if err != nil || !ok {
		t.Fatalf("expected valid code, got %v, %v", ok, err)
	}
	if ok, _ := te.ValidateOTP(ctx, s.ID, code); ok {
		t.Fatal("code replay accepted")
	}

	te.clock.Advance(time.Duration(s.Period+1) * time.Second)
	expiredCode := currentCode(t, s, te.clock.Now())
	if ok, _ := te.ValidateOTP(ctx, s.ID, expiredCode); ok {
		t.Fatal("expired secret accepted a correct code")
	}

	if ok, err := te.ValidateOTP(ctx, 999, "123456"); ok || err != nil {
		t.Fatalf("unknown secret: got %v, %v", ok, err)
	}
	if got := te.metrics.Value(MetricOTPValidateSuccess); got != 1 {
		t.Fatalf("expected 1 success, got %d", got)
	}
}

func TestInvalidateAndDeleteOTPCheckOwnership(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	s, err := te.CreateOTP(ctx, 5, OTPRequest{Name: "github"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}

	if err := te.InvalidateOTP(ctx, 6, s.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := te.DeleteOTP(ctx, 6, s.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := te.GetOTP(ctx, 5, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	code := currentCode(t, s, te.clock.Now())
	if err := te.InvalidateOTP(ctx, 5, s.ID); err != nil {
		t.Fatalf("InvalidateOTP: %v", err)
	}
	if ok, _ := te.ValidateOTP(ctx, s.ID, code); ok {
		t.Fatal("invalidated secret accepted a correct code")
	}

	list, err := te.ListOTP(ctx, 5)
	if err != nil || len(list) != 1 || list[0].Valid {
		t.Fatalf("unexpected list %+v, %v", list, err)
	}
	if err := te.DeleteOTP(ctx, 5, s.ID); err != nil {
		t.Fatalf("DeleteOTP: %v", err)
	}
	if n := te.otpStore.count(); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
}

func TestUpdateOTP(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	s, err := te.CreateOTP(ctx, 5, OTPRequest{Name: "github", Seed: "JBSWY3DPEHPK3PXP"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}

	if _, err := te.UpdateOTP(ctx, 6, s.ID, OTPRequest{Name: "stolen"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := te.UpdateOTP(ctx, 5, s.ID, OTPRequest{Digits: 3}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := te.UpdateOTP(ctx, 5, 999, OTPRequest{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	updated, err := te.UpdateOTP(ctx, 5, s.ID, OTPRequest{Name: "gitlab", Seed: "GEZDGNBVGY3TQOJQ"})
	if err != nil {
		t.Fatalf("UpdateOTP: %v", err)
	}
	if updated.ID != s.ID || updated.Name != "gitlab" || updated.Seed != "GEZDGNBVGY3TQOJQ" || updated.URI == s.URI {
		t.Fatalf("unexpected updated secret %+v", updated)
	}
	if raw := te.otpStore.raw(s.ID); raw.Seed == "GEZDGNBVGY3TQOJQ" {
		t.Fatal("updated seed stored in plaintext")
	}

	if ok, _ := te.ValidateOTP(ctx, s.ID, currentCode(t, s, te.clock.Now())); ok {
		t.Fatal("old seed still accepted after update")
	}
	if ok, err := te.ValidateOTP(ctx, s.ID, currentCode(t, updated, te.clock.Now())); err != nil || !ok {
		t.Fatalf("new seed rejected: %v, %v", ok, err)
	}

	events := te.auditEvents()
	if !hasAuditEvent(events, auditEventOTPUpdated) || !hasAuditEvent(events, auditEventAccessDenied) {
		t.Fatal("expected otp_updated and access_denied audit events")
	}
}

func TestHandleUserRegisteredIsIdempotent(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	payload, _ := json.Marshal(UserRegisteredEvent{
		OwnerID:   9,
		Email:     "alice@example.com",
		EventType: EventTypeUserRegistered,
		Timestamp: te.clock.Now().UnixMilli(),
	})
	for i := 0; i < 3; i++ {
		if err := te.HandleUserRegistered(ctx, payload); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	list, err := te.ListOTP(ctx, 9)
	if err != nil {
		t.Fatalf("ListOTP: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 provisioned secret, got %d", len(list))
	}
	s := list[0]
	if s.Name != "alice@example.com" || s.Type != otp.TOTP {
		t.Fatalf("unexpected secret %+v", s.Secret)
	}
	if want := te.clock.Now().Add(30 * 24 * time.Hour); !s.ExpiresAt.Equal(want) {
		t.Fatalf("expires %v, want %v", s.ExpiresAt, want)
	}
	if got := te.metrics.Value(MetricOTPProvisioned); got != 1 {
		t.Fatalf("expected provisioned metric 1, got %d", got)
	}
}

func TestHandleUserRegisteredIgnoresOtherEvents(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	other, _ := json.Marshal(map[string]any{"ownerId": 9, "eventType": "USER_DELETED"})
	if err := te.HandleUserRegistered(ctx, other); err != nil {
		t.Fatalf("other event: %v", err)
	}
	if err := te.HandleUserRegistered(ctx, []byte("{not json")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad payload, got %v", err)
	}
	missingOwner, _ := json.Marshal(map[string]any{"eventType": EventTypeUserRegistered})
	if err := te.HandleUserRegistered(ctx, missingOwner); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing owner, got %v", err)
	}
	if n := te.otpStore.count(); n != 0 {
		t.Fatalf("expected no secrets, got %d", n)
	}
}

func TestHandleUserRegisteredRespectsAutoProvision(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config, _ *Builder) {
		cfg.OTP.AutoProvision = false
	})
	payload, _ := json.Marshal(UserRegisteredEvent{OwnerID: 9, Email: "a@b.c", EventType: EventTypeUserRegistered})
	if err := te.HandleUserRegistered(context.Background(), payload); err != nil {
		t.Fatalf("HandleUserRegistered: %v", err)
	}
	if n := te.otpStore.count(); n != 0 {
		t.Fatalf("expected no secrets, got %d", n)
	}
}

func TestValidateOTPAttemptLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	te := newTestEngine(t, func(cfg *Config, b *Builder) {
		cfg.OTP.MaxAttempts = 3
		cfg.OTP.AttemptCooldown = time.Minute
		b.WithRedis(rdb)
	})
	ctx := context.Background()

	s, err := te.CreateOTP(ctx, 5, OTPRequest{Name: "github"})
	if err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	for i := 0; i < 3; i++ {
		if ok, err := te.ValidateOTP(ctx, s.ID, "000000"); ok || err != nil {
			t.Fatalf("attempt %d: got %v, %v", i, ok, err)
		}
	}

	code := currentCode(t, s, te.clock.Now())
	if _, err := te.ValidateOTP(ctx, s.ID, code); !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("expected ErrOTPRateLimited, got %v", err)
	}
	if got := te.metrics.Value(MetricOTPRateLimited); got != 1 {
		t.Fatalf("expected rate limited metric 1, got %d", got)
	}

	mr.FastForward(2 * time.Minute)
	if ok, err := te.ValidateOTP(ctx, s.ID, code); err != nil || !ok {
		t.Fatalf("expected success after cooldown, got %v, %v", ok, err)
	}
}
