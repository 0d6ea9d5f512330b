package otp

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thisjowi/keyward/envelope"
	"github.com/thisjowi/keyward/vault"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Record
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]Record)}
}

func (s *memStore) InsertOTP(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.rows[rec.ID] = rec
	return rec, nil
}

func (s *memStore) GetOTP(_ context.Context, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) ListOTPByOwner(_ context.Context, ownerID int64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.rows {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SetOTPValid(_ context.Context, id int64, valid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	rec.Valid = valid
	s.rows[id] = rec
	return nil
}

func (s *memStore) AdvanceOTPCounter(_ context.Context, id int64, prev, next uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Counter != prev {
		return false, nil
	}
	rec.Counter = next
	s.rows[id] = rec
	return true, nil
}

func (s *memStore) UpdateOTP(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[rec.ID]
	if !ok {
		return ErrNotFound
	}
	rec.OwnerID, rec.ExpiresAt, rec.Valid, rec.CreatedAt = old.OwnerID, old.ExpiresAt, old.Valid, old.CreatedAt
	s.rows[rec.ID] = rec
	return nil
}

func (s *memStore) DeleteOTP(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *memStore, *testClock) {
	t.Helper()
	c, err := envelope.New(envelope.Config{Secret: strings.Repeat("k", 32)})
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	v, err := vault.New(c, nil, nil)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	store := newMemStore()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(store, v, Config{DefaultIssuer: "keyward", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, store, clock
}

func TestCreateDeduplicatesNormalizedSeeds(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	first, created, err := m.Create(ctx, CreateRequest{OwnerID: 7, Name: "laptop", Seed: "ABCD 1234"})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := m.Create(ctx, CreateRequest{OwnerID: 7, Name: "phone", Seed: "abcd1234"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || second.ID != first.ID || second.Name != "laptop" {
		t.Fatalf("expected existing record to be returned, got %+v created=%v", second, created)
	}

	recs, _ := store.ListOTPByOwner(ctx, 7)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(recs))
	}

	// Another owner with the same seed gets its own record.
	if _, created, err := m.Create(ctx, CreateRequest{OwnerID: 8, Seed: "abcd1234"}); err != nil || !created {
		t.Fatalf("other owner create: created=%v err=%v", created, err)
	}
}

func TestCreateStoresOnlySealedValues(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	s, _, err := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "JBSWY3DPEHPK3PXP", Type: "hotp", Issuer: "acme"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := store.GetOTP(ctx, s.ID)
	for field, v := range map[string]string{"seed": rec.Seed, "type": rec.Type, "issuer": rec.Issuer} {
		if v == "" || strings.Contains(v, "JBSWY3DPEHPK3PXP") || v == "HOTP" || v == "acme" {
			t.Fatalf("%s stored unsealed: %q", field, v)
		}
	}

	got, err := m.Get(ctx, 1, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Seed != "JBSWY3DPEHPK3PXP" || got.Type != HOTP || got.Issuer != "acme" {
		t.Fatalf("unexpected revealed secret %+v", got)
	}
}

func TestCreateGeneratesSeedAndDefaults(t *testing.T) {
	m, _, clock := newTestManager(t)

	s, created, err := m.Create(context.Background(), CreateRequest{OwnerID: 3})
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if len(KeyFromSeed(s.Seed)) != SeedBytes {
		t.Fatalf("expected %d-byte generated seed, got %q", SeedBytes, s.Seed)
	}
	if s.Type != TOTP || s.Digits != DefaultDigits || s.Period != DefaultPeriod || s.Algorithm != SHA1 || s.Issuer != "keyward" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if want := clock.Now().Add(30 * time.Second); !s.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, s.ExpiresAt)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for name, req := range map[string]CreateRequest{
		"owner":     {OwnerID: 0},
		"type":      {OwnerID: 1, Type: "sms"},
		"digits":    {OwnerID: 1, Digits: 4},
		"period":    {OwnerID: 1, Period: -1},
		"blankSeed": {OwnerID: 1, Seed: "   "},
	} {
		if _, _, err := m.Create(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}
	if _, _, err := m.Create(ctx, CreateRequest{OwnerID: 1, Algorithm: "md5"}); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestValidateTOTPAndReplay(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, _, err := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "JBSWY3DPEHPK3PXP", Period: 30, Validity: time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := KeyFromSeed(s.Seed)
	code := Code(key, TimeStep(clock.Now(), 30), 6, SHA1)

	ok, err := m.Validate(ctx, s.ID, code)
	if err != nil || !ok {
		t.Fatalf("expected current code to validate, ok=%v err=%v", ok, err)
	}
	if ok, _ := m.Validate(ctx, s.ID, code); ok {
		t.Fatal("expected replayed code to be rejected")
	}

	clock.Advance(30 * time.Second)
	next := Code(key, TimeStep(clock.Now(), 30), 6, SHA1)
	if ok, _ := m.Validate(ctx, s.ID, next); !ok {
		t.Fatal("expected next step code to validate")
	}
	if ok, _ := m.Validate(ctx, s.ID, "000000"); ok {
		t.Fatal("expected wrong code to be rejected")
	}
}

func TestValidateExpiredButCorrectIsFalse(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, _, err := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "JBSWY3DPEHPK3PXP", Period: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(31 * time.Second)
	code := Code(KeyFromSeed(s.Seed), TimeStep(clock.Now(), 30), 6, SHA1)

	ok, err := m.Validate(ctx, s.ID, code)
	if err != nil || ok {
		t.Fatalf("expected expired secret to reject a correct code, ok=%v err=%v", ok, err)
	}
}

func TestValidateInvalidatedAndMissing(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, _, _ := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "JBSWY3DPEHPK3PXP", Validity: time.Hour})
	if err := m.Invalidate(ctx, 1, s.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	code := Code(KeyFromSeed(s.Seed), TimeStep(clock.Now(), 30), 6, SHA1)
	if ok, err := m.Validate(ctx, s.ID, code); ok || err != nil {
		t.Fatalf("expected invalidated secret to reject, ok=%v err=%v", ok, err)
	}
	if ok, err := m.Validate(ctx, 999, code); ok || err != nil {
		t.Fatalf("expected missing secret to reject, ok=%v err=%v", ok, err)
	}

	// An invalidated secret no longer takes part in dedup.
	if _, created, err := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "jbswy3dpehpk3pxp"}); err != nil || !created {
		t.Fatalf("expected new record after invalidation, created=%v err=%v", created, err)
	}
}

func TestValidateHOTPAdvancesCounter(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	s, _, err := m.Create(ctx, CreateRequest{OwnerID: 1, Type: "HOTP", Seed: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", Validity: time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The seed decodes to the RFC 4226 test key.
	if ok, _ := m.Validate(ctx, s.ID, "359152"); !ok {
		t.Fatal("expected counter 2 code to validate within the window")
	}
	rec, _ := store.GetOTP(ctx, s.ID)
	if rec.Counter != 3 {
		t.Fatalf("expected counter 3, got %d", rec.Counter)
	}
	if ok, _ := m.Validate(ctx, s.ID, "359152"); ok {
		t.Fatal("expected replayed hotp code to be rejected")
	}
	if ok, _ := m.Validate(ctx, s.ID, "287082"); ok {
		t.Fatal("expected code behind the counter to be rejected")
	}
}

func TestValidateConcurrentSameCodeAcceptsOnce(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, _, _ := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "JBSWY3DPEHPK3PXP", Validity: time.Hour})
	code := Code(KeyFromSeed(s.Seed), TimeStep(clock.Now(), 30), 6, SHA1)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Validate(ctx, s.ID, code); ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", accepted)
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	first, created, err := m.Provision(ctx, 5, "ada@example.com")
	if err != nil || !created {
		t.Fatalf("provision: created=%v err=%v", created, err)
	}
	if want := clock.Now().Add(30 * 24 * time.Hour); !first.ExpiresAt.Equal(want) {
		t.Fatalf("expected 30 day validity, got %v", first.ExpiresAt)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = m.Provision(ctx, 5, "ada@example.com")
		}()
	}
	wg.Wait()

	recs, _ := store.ListOTPByOwner(ctx, 5)
	if len(recs) != 1 {
		t.Fatalf("expected one provisioned secret, got %d", len(recs))
	}
}

func TestOwnershipChecksPrecedeMutation(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	s, _, _ := m.Create(ctx, CreateRequest{OwnerID: 1, Validity: time.Hour})

	if _, err := m.Get(ctx, 2, s.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on get, got %v", err)
	}
	if err := m.Invalidate(ctx, 2, s.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on invalidate, got %v", err)
	}
	if err := m.Delete(ctx, 2, s.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := m.Update(ctx, 2, s.ID, UpdateRequest{Name: "stolen"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on update, got %v", err)
	}
	rec, err := store.GetOTP(ctx, s.ID)
	if err != nil || !rec.Valid {
		t.Fatalf("expected record untouched, rec=%+v err=%v", rec, err)
	}

	if err := m.Delete(ctx, 1, s.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := m.Delete(ctx, 1, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateResealsAndRestartsCounter(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	s, _, err := m.Create(ctx, CreateRequest{OwnerID: 1, Name: "laptop", Seed: "JBSWY3DPEHPK3PXP", Validity: time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	code := Code(KeyFromSeed(s.Seed), TimeStep(clock.Now(), 30), 6, SHA1)
	if ok, err := m.Validate(ctx, s.ID, code); err != nil || !ok {
		t.Fatalf("validate: ok=%v err=%v", ok, err)
	}

	renamed, err := m.Update(ctx, 1, s.ID, UpdateRequest{Name: " phone "})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "phone" || renamed.Seed != s.Seed || renamed.Counter == 0 {
		t.Fatalf("rename must keep seed and counter, got %+v", renamed)
	}

	rekeyed, err := m.Update(ctx, 1, s.ID, UpdateRequest{Seed: "gezd gnbv gy3t qojq", Issuer: "acme", Digits: 8})
	if err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if rekeyed.Seed != "GEZDGNBVGY3TQOJQ" || rekeyed.Counter != 0 || rekeyed.Digits != 8 || rekeyed.Issuer != "acme" {
		t.Fatalf("unexpected rekeyed secret %+v", rekeyed)
	}
	rec, _ := store.GetOTP(ctx, s.ID)
	if strings.Contains(rec.Seed, "GEZDGNBVGY3TQOJQ") || rec.Issuer == "acme" {
		t.Fatalf("update stored unsealed values: %+v", rec)
	}
	if !rec.ExpiresAt.Equal(s.ExpiresAt) || !rec.Valid {
		t.Fatalf("update must keep expiry and validity, got %+v", rec)
	}

	// Same step, new key: accepted because the counter restarted.
	code = Code(KeyFromSeed(rekeyed.Seed), TimeStep(clock.Now(), 30), 8, SHA1)
	if ok, err := m.Validate(ctx, s.ID, code); err != nil || !ok {
		t.Fatalf("validate after rekey: ok=%v err=%v", ok, err)
	}
}

func TestUpdateRejectsBadInput(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _, _ := m.Create(ctx, CreateRequest{OwnerID: 1, Seed: "JBSWY3DPEHPK3PXP", Validity: time.Hour})
	b, _, _ := m.Create(ctx, CreateRequest{OwnerID: 1, Validity: time.Hour})

	for name, req := range map[string]UpdateRequest{
		"type":      {Type: "sms"},
		"digits":    {Digits: 4},
		"period":    {Period: -1},
		"blankSeed": {Seed: "   "},
		"takenSeed": {Seed: "jbswy3dpehpk3pxp"},
	} {
		if _, err := m.Update(ctx, 1, b.ID, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}
	if _, err := m.Update(ctx, 1, b.ID, UpdateRequest{Algorithm: "md5"}); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
	// Re-sending a secret's own seed is not a conflict.
	if _, err := m.Update(ctx, 1, a.ID, UpdateRequest{Seed: "JBSW Y3DP EHPK 3PXP"}); err != nil {
		t.Fatalf("own seed: %v", err)
	}
	if _, err := m.Update(ctx, 1, 999, UpdateRequest{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
