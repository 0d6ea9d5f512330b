package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thisjowi/keyward"
)

var _ keyward.IdentityStore = (*IdentityRepo)(nil)

// IdentityRepo is the SQLite implementation of keyward.IdentityStore.
type IdentityRepo struct {
	db *DB
}

// NewIdentityRepo creates an IdentityRepo backed by db.
func NewIdentityRepo(db *DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

const identityColumns = `id, email, password_hash, created_at, updated_at`

// GetIdentityByID returns keyward.ErrNotFound for an unknown id.
func (r *IdentityRepo) GetIdentityByID(ctx context.Context, id int64) (keyward.Identity, error) {
	const query = `SELECT ` + identityColumns + ` FROM identities WHERE id = ?`

	ident, err := scanIdentity(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return keyward.Identity{}, keyward.ErrNotFound
	}
	if err != nil {
		return keyward.Identity{}, fmt.Errorf("get identity %d: %w", id, err)
	}
	return ident, nil
}

// GetIdentityByEmail matches the email case-insensitively.
func (r *IdentityRepo) GetIdentityByEmail(ctx context.Context, email string) (keyward.Identity, error) {
	const query = `SELECT ` + identityColumns + ` FROM identities WHERE email = ?`

	ident, err := scanIdentity(r.db.Reader.QueryRowContext(ctx, query, normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return keyward.Identity{}, keyward.ErrNotFound
	}
	if err != nil {
		return keyward.Identity{}, fmt.Errorf("get identity by email: %w", err)
	}
	return ident, nil
}

// CreateIdentity inserts a new identity. A taken email yields
// keyward.ErrIdentityExists.
func (r *IdentityRepo) CreateIdentity(ctx context.Context, email, passwordHash string) (keyward.Identity, error) {
	const query = `INSERT INTO identities (email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)`

	now := time.Now().UTC()
	email = normalizeEmail(email)
	res, err := r.db.Writer.ExecContext(ctx, query, email, passwordHash, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return keyward.Identity{}, keyward.ErrIdentityExists
		}
		return keyward.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return keyward.Identity{}, fmt.Errorf("read identity id: %w", err)
	}

	return keyward.Identity{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpdatePasswordHash replaces the stored hash in one transaction.
func (r *IdentityRepo) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	const query = `UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, passwordHash, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update password hash %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return keyward.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password update: %w", err)
	}
	return nil
}

// DeleteIdentity removes the identity row. Vault and OTP rows owned by id are
// left to their own stores.
func (r *IdentityRepo) DeleteIdentity(ctx context.Context, id int64) error {
	return execOne(ctx, r.db, `DELETE FROM identities WHERE id = ?`, id)
}

func scanIdentity(s scanner) (keyward.Identity, error) {
	var (
		ident            keyward.Identity
		created, updated string
	)
	if err := s.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &created, &updated); err != nil {
		return keyward.Identity{}, err
	}

	var err error
	if ident.CreatedAt, err = parseTime(created); err != nil {
		return keyward.Identity{}, fmt.Errorf("parse created_at: %w", err)
	}
	if ident.UpdatedAt, err = parseTime(updated); err != nil {
		return keyward.Identity{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return ident, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
