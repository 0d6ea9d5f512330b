package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/thisjowi/keyward/vault"
)

// Store persists OTP records.
type Store interface {
	InsertOTP(ctx context.Context, rec Record) (Record, error)
	GetOTP(ctx context.Context, id int64) (Record, error)
	ListOTPByOwner(ctx context.Context, ownerID int64) ([]Record, error)
	SetOTPValid(ctx context.Context, id int64, valid bool) error
	// AdvanceOTPCounter sets the counter to next only if it still equals
	// prev. It reports whether the swap happened.
	AdvanceOTPCounter(ctx context.Context, id int64, prev, next uint64) (bool, error)
	// UpdateOTP rewrites name, seed, type, issuer, digits, period, algorithm
	// and counter of rec.ID.
	UpdateOTP(ctx context.Context, rec Record) error
	DeleteOTP(ctx context.Context, id int64) error
}

// Config tunes a Manager. Zero fields take defaults.
type Config struct {
	DefaultIssuer     string
	DefaultDigits     int
	DefaultPeriod     int
	DefaultAlgorithm  Algorithm
	Skew              int
	HOTPWindow        int
	ProvisionValidity time.Duration
	Now               func() time.Time
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DefaultDigits == 0 {
		c.DefaultDigits = DefaultDigits
	}
	if c.DefaultPeriod == 0 {
		c.DefaultPeriod = DefaultPeriod
	}
	if c.DefaultAlgorithm == "" {
		c.DefaultAlgorithm = SHA1
	}
	if c.Skew == 0 {
		c.Skew = 1
	}
	if c.HOTPWindow == 0 {
		c.HOTPWindow = 10
	}
	if c.ProvisionValidity == 0 {
		c.ProvisionValidity = 30 * 24 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// CreateRequest describes a new secret. Only OwnerID is required.
type CreateRequest struct {
	OwnerID   int64
	Name      string
	Type      string
	Seed      string
	Issuer    string
	Digits    int
	Period    int
	Algorithm string

	// Validity overrides the default expiry of now + period.
	Validity time.Duration
}

const ownerLockStripes = 64

// Manager creates, deduplicates and validates OTP secrets. Seeds, types and
// issuers are sealed through the vault with a strict policy.
type Manager struct {
	store  Store
	vault  *vault.Vault
	cfg    Config
	owners [ownerLockStripes]sync.Mutex
}

// NewManager returns a Manager over store.
func NewManager(store Store, v *vault.Vault, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("otp manager requires a store")
	}
	if v == nil {
		return nil, errors.New("otp manager requires a vault")
	}
	cfg = cfg.withDefaults()
	if cfg.DefaultDigits < MinDigits || cfg.DefaultDigits > MaxDigits {
		return nil, fmt.Errorf("otp default digits must be between %d and %d", MinDigits, MaxDigits)
	}
	if cfg.DefaultPeriod < 0 || cfg.Skew < 0 || cfg.HOTPWindow < 0 || cfg.ProvisionValidity < 0 {
		return nil, errors.New("otp period, skew, window and validity must not be negative")
	}
	return &Manager{store: store, vault: v, cfg: cfg}, nil
}

func (m *Manager) lockOwner(ownerID int64) func() {
	mu := &m.owners[uint64(ownerID)%ownerLockStripes]
	mu.Lock()
	return mu.Unlock
}

// Create stores a new secret, or returns the owner's existing valid secret
// whose seed normalizes to the same value. created is false in that case.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (secret Secret, created bool, err error) {
	if req.OwnerID <= 0 {
		return Secret{}, false, fmt.Errorf("%w: owner id required", ErrInvalidRequest)
	}
	unlock := m.lockOwner(req.OwnerID)
	defer unlock()

	return m.create(ctx, req)
}

func (m *Manager) create(ctx context.Context, req CreateRequest) (Secret, bool, error) {
	typ, err := ParseType(req.Type)
	if err != nil {
		return Secret{}, false, err
	}
	alg := m.cfg.DefaultAlgorithm
	if req.Algorithm != "" {
		if alg, err = ParseAlgorithm(req.Algorithm); err != nil {
			return Secret{}, false, err
		}
	}
	digits := req.Digits
	if digits == 0 {
		digits = m.cfg.DefaultDigits
	}
	if digits < MinDigits || digits > MaxDigits {
		return Secret{}, false, fmt.Errorf("%w: digits must be between %d and %d", ErrInvalidRequest, MinDigits, MaxDigits)
	}
	period := req.Period
	if period < 0 {
		return Secret{}, false, fmt.Errorf("%w: period must not be negative", ErrInvalidRequest)
	}
	if period == 0 {
		period = m.cfg.DefaultPeriod
	}
	issuer := req.Issuer
	if issuer == "" {
		issuer = m.cfg.DefaultIssuer
	}

	seed := NormalizeSeed(req.Seed)
	if req.Seed != "" && seed == "" {
		return Secret{}, false, fmt.Errorf("%w: seed is blank", ErrInvalidRequest)
	}
	if seed != "" {
		existing, found, err := m.findBySeed(ctx, req.OwnerID, seed)
		if err != nil {
			return Secret{}, false, err
		}
		if found {
			m.cfg.Logger.InfoContext(ctx, "duplicate otp enrollment collapsed to existing secret",
				"owner_id", req.OwnerID,
				"otp_id", existing.ID,
			)
			return existing, false, nil
		}
	} else if seed, err = GenerateSeed(); err != nil {
		return Secret{}, false, err
	}

	now := m.cfg.Now()
	validity := req.Validity
	if validity <= 0 {
		validity = time.Duration(period) * time.Second
	}
	secret := Secret{
		OwnerID:   req.OwnerID,
		Name:      strings.TrimSpace(req.Name),
		Seed:      seed,
		Type:      typ,
		Issuer:    issuer,
		Digits:    digits,
		Period:    period,
		Algorithm: alg,
		ExpiresAt: now.Add(validity),
		Valid:     true,
		CreatedAt: now,
	}

	rec, err := m.protect(secret)
	if err != nil {
		return Secret{}, false, err
	}
	rec, err = m.store.InsertOTP(ctx, rec)
	if err != nil {
		return Secret{}, false, fmt.Errorf("insert otp secret: %w", err)
	}
	secret.ID = rec.ID
	return secret, true, nil
}

// Provision returns the owner's valid secret named name, creating a TOTP
// secret with the provisioning validity when none exists. Repeated calls for
// the same owner and name are idempotent.
func (m *Manager) Provision(ctx context.Context, ownerID int64, name string) (Secret, bool, error) {
	if ownerID <= 0 {
		return Secret{}, false, fmt.Errorf("%w: owner id required", ErrInvalidRequest)
	}
	unlock := m.lockOwner(ownerID)
	defer unlock()

	secrets, err := m.list(ctx, ownerID)
	if err != nil {
		return Secret{}, false, err
	}
	for _, s := range secrets {
		if s.Valid && s.Name == name {
			return s, false, nil
		}
	}
	return m.create(ctx, CreateRequest{
		OwnerID:  ownerID,
		Name:     name,
		Type:     string(TOTP),
		Validity: m.cfg.ProvisionValidity,
	})
}

// Validate reports whether code is currently accepted for secret id. Missing,
// invalidated and expired secrets always yield false.
func (m *Manager) Validate(ctx context.Context, id int64, code string) (bool, error) {
	rec, err := m.store.GetOTP(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load otp secret: %w", err)
	}
	now := m.cfg.Now()
	if !rec.Valid || !now.Before(rec.ExpiresAt) {
		return false, nil
	}

	secret, err := m.reveal(ctx, rec)
	if err != nil {
		return false, err
	}
	key := KeyFromSeed(secret.Seed)

	var next uint64
	switch secret.Type {
	case HOTP:
		var ok bool
		if next, ok = VerifyHOTP(key, code, secret.Digits, secret.Counter, m.cfg.HOTPWindow, secret.Algorithm); !ok {
			return false, nil
		}
	default:
		step, ok := VerifyTOTP(key, code, secret.Digits, secret.Period, m.cfg.Skew, secret.Algorithm, now)
		if !ok {
			return false, nil
		}
		// Counter holds the last accepted step plus one; reusing a step is a replay.
		if step+1 <= secret.Counter {
			return false, nil
		}
		next = step + 1
	}

	swapped, err := m.store.AdvanceOTPCounter(ctx, id, secret.Counter, next)
	if err != nil {
		return false, fmt.Errorf("advance otp counter: %w", err)
	}
	return swapped, nil
}

// Get returns the revealed secret id if it belongs to ownerID.
func (m *Manager) Get(ctx context.Context, ownerID, id int64) (Secret, error) {
	rec, err := m.owned(ctx, ownerID, id)
	if err != nil {
		return Secret{}, err
	}
	return m.reveal(ctx, rec)
}

// List returns every secret of ownerID.
func (m *Manager) List(ctx context.Context, ownerID int64) ([]Secret, error) {
	return m.list(ctx, ownerID)
}

// Invalidate clears the validity flag of a secret owned by ownerID.
func (m *Manager) Invalidate(ctx context.Context, ownerID, id int64) error {
	if _, err := m.owned(ctx, ownerID, id); err != nil {
		return err
	}
	return m.store.SetOTPValid(ctx, id, false)
}

// UpdateRequest changes an existing secret. Zero fields keep the stored value.
type UpdateRequest struct {
	Name      string
	Type      string
	Seed      string
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
}

// Update changes a secret owned by ownerID and seals it again. A new seed,
// type, period or algorithm restarts the counter. A seed already enrolled in
// another valid secret of the owner is rejected.
func (m *Manager) Update(ctx context.Context, ownerID, id int64, req UpdateRequest) (Secret, error) {
	unlock := m.lockOwner(ownerID)
	defer unlock()

	rec, err := m.owned(ctx, ownerID, id)
	if err != nil {
		return Secret{}, err
	}
	cur, err := m.reveal(ctx, rec)
	if err != nil {
		return Secret{}, err
	}

	next := cur
	if name := strings.TrimSpace(req.Name); name != "" {
		next.Name = name
	}
	if req.Issuer != "" {
		next.Issuer = req.Issuer
	}
	if req.Type != "" {
		if next.Type, err = ParseType(req.Type); err != nil {
			return Secret{}, err
		}
	}
	if req.Algorithm != "" {
		if next.Algorithm, err = ParseAlgorithm(req.Algorithm); err != nil {
			return Secret{}, err
		}
	}
	if req.Digits != 0 {
		if req.Digits < MinDigits || req.Digits > MaxDigits {
			return Secret{}, fmt.Errorf("%w: digits must be between %d and %d", ErrInvalidRequest, MinDigits, MaxDigits)
		}
		next.Digits = req.Digits
	}
	switch {
	case req.Period < 0:
		return Secret{}, fmt.Errorf("%w: period must not be negative", ErrInvalidRequest)
	case req.Period > 0:
		next.Period = req.Period
	}
	if req.Seed != "" {
		seed := NormalizeSeed(req.Seed)
		if seed == "" {
			return Secret{}, fmt.Errorf("%w: seed is blank", ErrInvalidRequest)
		}
		if seed != NormalizeSeed(cur.Seed) {
			other, found, err := m.findBySeed(ctx, ownerID, seed)
			if err != nil {
				return Secret{}, err
			}
			if found && other.ID != id {
				return Secret{}, fmt.Errorf("%w: seed already enrolled", ErrInvalidRequest)
			}
		}
		next.Seed = seed
	}
	if next.Seed != cur.Seed || next.Type != cur.Type || next.Period != cur.Period || next.Algorithm != cur.Algorithm {
		next.Counter = 0
	}

	sealed, err := m.protect(next)
	if err != nil {
		return Secret{}, err
	}
	if err := m.store.UpdateOTP(ctx, sealed); err != nil {
		return Secret{}, fmt.Errorf("update otp secret: %w", err)
	}
	return next, nil
}

// Delete removes a secret owned by ownerID.
func (m *Manager) Delete(ctx context.Context, ownerID, id int64) error {
	if _, err := m.owned(ctx, ownerID, id); err != nil {
		return err
	}
	return m.store.DeleteOTP(ctx, id)
}

func (m *Manager) owned(ctx context.Context, ownerID, id int64) (Record, error) {
	rec, err := m.store.GetOTP(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID != ownerID {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

func (m *Manager) list(ctx context.Context, ownerID int64) ([]Secret, error) {
	recs, err := m.store.ListOTPByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list otp secrets: %w", err)
	}
	out := make([]Secret, 0, len(recs))
	for _, rec := range recs {
		s, err := m.reveal(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Manager) findBySeed(ctx context.Context, ownerID int64, normalized string) (Secret, bool, error) {
	secrets, err := m.list(ctx, ownerID)
	if err != nil {
		return Secret{}, false, err
	}
	for _, s := range secrets {
		if s.Valid && NormalizeSeed(s.Seed) == normalized {
			return s, true, nil
		}
	}
	return Secret{}, false, nil
}

func (m *Manager) protect(s Secret) (Record, error) {
	rec := Record{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Name:      s.Name,
		Digits:    s.Digits,
		Period:    s.Period,
		Algorithm: string(s.Algorithm),
		Counter:   s.Counter,
		ExpiresAt: s.ExpiresAt,
		Valid:     s.Valid,
		CreatedAt: s.CreatedAt,
	}
	var err error
	if rec.Seed, err = m.vault.Seal(s.Seed); err != nil {
		return Record{}, fmt.Errorf("seal otp seed: %w", err)
	}
	if rec.Type, err = m.vault.Seal(string(s.Type)); err != nil {
		return Record{}, fmt.Errorf("seal otp type: %w", err)
	}
	if rec.Issuer, err = m.vault.Seal(s.Issuer); err != nil {
		return Record{}, fmt.Errorf("seal otp issuer: %w", err)
	}
	return rec, nil
}

func (m *Manager) reveal(ctx context.Context, rec Record) (Secret, error) {
	open := func(field, stored string) (string, error) {
		return m.vault.Open(ctx, vault.FieldRef{Record: "otp_secret", ID: rec.ID, Field: field}, stored, vault.Strict)
	}
	seed, err := open("seed", rec.Seed)
	if err != nil {
		return Secret{}, err
	}
	rawType, err := open("type", rec.Type)
	if err != nil {
		return Secret{}, err
	}
	issuer, err := open("issuer", rec.Issuer)
	if err != nil {
		return Secret{}, err
	}
	typ, err := ParseType(rawType)
	if err != nil {
		return Secret{}, err
	}
	alg, err := ParseAlgorithm(rec.Algorithm)
	if err != nil {
		return Secret{}, err
	}

	return Secret{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		Name:      rec.Name,
		Seed:      seed,
		Type:      typ,
		Issuer:    issuer,
		Digits:    rec.Digits,
		Period:    rec.Period,
		Algorithm: alg,
		Counter:   rec.Counter,
		ExpiresAt: rec.ExpiresAt,
		Valid:     rec.Valid,
		CreatedAt: rec.CreatedAt,
	}, nil
}
