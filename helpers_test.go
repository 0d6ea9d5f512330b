package keyward

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thisjowi/keyward/otp"
)

const (
	testTokenSecret    = "0123456789abcdef0123456789abcdef"
	testEnvelopeSecret = "envelope-secret-for-tests-000000000"
	testPassword       = "Str0ng!Passw0rd"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = testTokenSecret
	cfg.Envelope.Secret = testEnvelopeSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.SweepInterval = 0
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

/*
====================================
IDENTITY STORE
====================================
*/

type mockIdentityStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Identity

	updateErr error

	getByIDCalls        int
	getByEmailCalls     int
	updatePasswordCalls int
}

func newMockIdentityStore() *mockIdentityStore {
	return &mockIdentityStore{rows: make(map[int64]Identity)}
}

func (m *mockIdentityStore) GetIdentityByID(_ context.Context, id int64) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDCalls++
	ident, ok := m.rows[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (m *mockIdentityStore) GetIdentityByEmail(_ context.Context, email string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByEmailCalls++
	for _, ident := range m.rows {
		if ident.Email == strings.ToLower(email) {
			return ident, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (m *mockIdentityStore) CreateIdentity(_ context.Context, email, hash string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.rows {
		if ident.Email == email {
			return Identity{}, ErrIdentityExists
		}
	}
	m.nextID++
	ident := Identity{ID: m.nextID, Email: email, PasswordHash: hash}
	m.rows[ident.ID] = ident
	return ident, nil
}

func (m *mockIdentityStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	ident, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	ident.PasswordHash = hash
	m.rows[id] = ident
	return nil
}

func (m *mockIdentityStore) DeleteIdentity(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *mockIdentityStore) hash(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].PasswordHash
}

func (m *mockIdentityStore) put(ident Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[ident.ID] = ident
	if ident.ID > m.nextID {
		m.nextID = ident.ID
	}
}

/*
====================================
OTP STORE
====================================
*/

type mockOTPStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]otp.Record
}

func newMockOTPStore() *mockOTPStore {
	return &mockOTPStore{rows: make(map[int64]otp.Record)}
}

func (s *mockOTPStore) InsertOTP(_ context.Context, rec otp.Record) (otp.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.rows[rec.ID] = rec
	return rec, nil
}

func (s *mockOTPStore) GetOTP(_ context.Context, id int64) (otp.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return otp.Record{}, otp.ErrNotFound
	}
	return rec, nil
}

func (s *mockOTPStore) ListOTPByOwner(_ context.Context, ownerID int64) ([]otp.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []otp.Record
	for _, rec := range s.rows {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockOTPStore) SetOTPValid(_ context.Context, id int64, valid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return otp.ErrNotFound
	}
	rec.Valid = valid
	s.rows[id] = rec
	return nil
}

func (s *mockOTPStore) AdvanceOTPCounter(_ context.Context, id int64, prev, next uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return false, otp.ErrNotFound
	}
	if rec.Counter != prev {
		return false, nil
	}
	rec.Counter = next
	s.rows[id] = rec
	return true, nil
}

func (s *mockOTPStore) UpdateOTP(_ context.Context, rec otp.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[rec.ID]
	if !ok {
		return otp.ErrNotFound
	}
	rec.OwnerID = old.OwnerID
	rec.ExpiresAt = old.ExpiresAt
	rec.Valid = old.Valid
	rec.CreatedAt = old.CreatedAt
	s.rows[rec.ID] = rec
	return nil
}

func (s *mockOTPStore) DeleteOTP(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return otp.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *mockOTPStore) raw(id int64) otp.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

func (s *mockOTPStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

/*
====================================
VAULT STORES
====================================
*/

type mockEntryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]VaultEntry
}

func newMockEntryStore() *mockEntryStore {
	return &mockEntryStore{rows: make(map[int64]VaultEntry)}
}

func (s *mockEntryStore) InsertEntry(_ context.Context, e VaultEntry) (VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.rows[e.ID] = e
	return e, nil
}

func (s *mockEntryStore) GetEntry(_ context.Context, id int64) (VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return VaultEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *mockEntryStore) ListEntriesByOwner(_ context.Context, ownerID int64) ([]VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VaultEntry
	for _, e := range s.rows {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockEntryStore) UpdateEntry(_ context.Context, e VaultEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[e.ID]; !ok {
		return ErrNotFound
	}
	s.rows[e.ID] = e
	return nil
}

func (s *mockEntryStore) DeleteEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *mockEntryStore) raw(id int64) VaultEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type mockNoteStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Note
}

func newMockNoteStore() *mockNoteStore {
	return &mockNoteStore{rows: make(map[int64]Note)}
}

func (s *mockNoteStore) InsertNote(_ context.Context, n Note) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	n.ID = s.nextID
	s.rows[n.ID] = n
	return n, nil
}

func (s *mockNoteStore) GetNote(_ context.Context, id int64) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return n, nil
}

func (s *mockNoteStore) ListNotesByOwner(_ context.Context, ownerID int64) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Note
	for _, n := range s.rows {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockNoteStore) FindNotesByTitle(ctx context.Context, ownerID int64, fragment string) ([]Note, error) {
	all, _ := s.ListNotesByOwner(ctx, ownerID)
	var out []Note
	for _, n := range all {
		if strings.Contains(strings.ToLower(n.Title), strings.ToLower(fragment)) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *mockNoteStore) UpdateNote(_ context.Context, n Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[n.ID]; !ok {
		return ErrNotFound
	}
	s.rows[n.ID] = n
	return nil
}

func (s *mockNoteStore) DeleteNote(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *mockNoteStore) raw(id int64) Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

/*
====================================
PUBLISHER
====================================
*/

type publishedEvent struct {
	topic   string
	payload []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, ev := range p.events {
		if ev.topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

/*
====================================
ENGINE FIXTURE
====================================
*/

type testEngine struct {
	*Engine
	clock      *testClock
	identities *mockIdentityStore
	otpStore   *mockOTPStore
	entries    *mockEntryStore
	notes      *mockNoteStore
	publisher  *recordingPublisher
	sink       *ChannelSink
}

func newTestEngine(t *testing.T, mutate func(*Config, *Builder)) *testEngine {
	t.Helper()

	te := &testEngine{
		clock:      newTestClock(),
		identities: newMockIdentityStore(),
		otpStore:   newMockOTPStore(),
		entries:    newMockEntryStore(),
		notes:      newMockNoteStore(),
		publisher:  &recordingPublisher{},
		sink:       NewChannelSink(256),
	}

	cfg := testConfig()
	b := New().
		WithClock(te.clock.Now).
		WithIdentityStore(te.identities).
		WithOTPStore(te.otpStore).
		WithEntryStore(te.entries).
		WithNoteStore(te.notes).
		WithEventPublisher(te.publisher).
		WithAuditSink(te.sink)
	if mutate != nil {
		mutate(&cfg, b)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	te.Engine = engine
	return te
}

// seedIdentity stores an identity with password and returns a bearer token.
func (te *testEngine) seedIdentity(t *testing.T, email, password string) (int64, string) {
	t.Helper()
	id, err := te.Register(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := te.IssueToken(id, email)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return id, token
}

// auditEvents drains the sink after closing the dispatcher.
func (te *testEngine) auditEvents() []AuditEvent {
	te.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-te.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasAuditEvent(events []AuditEvent, eventType string) bool {
	for _, ev := range events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}
