package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/thisjowi/keyward/otp"
)

var _ otp.Store = (*OTPRepo)(nil)

// OTPRepo is the SQLite implementation of otp.Store. Seed, type and issuer
// arrive sealed and are stored as given.
type OTPRepo struct {
	db *DB
}

// NewOTPRepo creates an OTPRepo backed by db.
func NewOTPRepo(db *DB) *OTPRepo {
	return &OTPRepo{db: db}
}

const otpColumns = `id, owner_id, name, seed, type, issuer, digits, period, algorithm, counter, expires_at, valid, created_at`

// InsertOTP stores rec and returns it with its new id.
func (r *OTPRepo) InsertOTP(ctx context.Context, rec otp.Record) (otp.Record, error) {
	const query = `INSERT INTO otp_secrets
		(owner_id, name, seed, type, issuer, digits, period, algorithm, counter, expires_at, valid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.Writer.ExecContext(ctx, query,
		rec.OwnerID, rec.Name, rec.Seed, rec.Type, rec.Issuer, rec.Digits, rec.Period, rec.Algorithm,
		int64(rec.Counter), formatTime(rec.ExpiresAt), rec.Valid, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return otp.Record{}, fmt.Errorf("insert otp secret: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return otp.Record{}, fmt.Errorf("read otp secret id: %w", err)
	}
	return rec, nil
}

// GetOTP returns otp.ErrNotFound for an unknown id.
func (r *OTPRepo) GetOTP(ctx context.Context, id int64) (otp.Record, error) {
	const query = `SELECT ` + otpColumns + ` FROM otp_secrets WHERE id = ?`

	rec, err := scanOTP(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return otp.Record{}, otp.ErrNotFound
	}
	if err != nil {
		return otp.Record{}, fmt.Errorf("get otp secret %d: %w", id, err)
	}
	return rec, nil
}

// ListOTPByOwner returns the owner's records ordered by id.
func (r *OTPRepo) ListOTPByOwner(ctx context.Context, ownerID int64) ([]otp.Record, error) {
	const query = `SELECT ` + otpColumns + ` FROM otp_secrets WHERE owner_id = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list otp secrets: %w", err)
	}
	defer rows.Close()

	var out []otp.Record
	for rows.Next() {
		rec, err := scanOTP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan otp secret: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate otp secrets: %w", err)
	}
	return out, nil
}

// SetOTPValid sets the validity flag.
func (r *OTPRepo) SetOTPValid(ctx context.Context, id int64, valid bool) error {
	const query = `UPDATE otp_secrets SET valid = ? WHERE id = ?`
	return r.execOne(ctx, query, valid, id)
}

// AdvanceOTPCounter moves the counter from prev to next in a single
// conditional update.
func (r *OTPRepo) AdvanceOTPCounter(ctx context.Context, id int64, prev, next uint64) (bool, error) {
	const query = `UPDATE otp_secrets SET counter = ? WHERE id = ? AND counter = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, int64(next), id, int64(prev))
	if err != nil {
		return false, fmt.Errorf("advance otp counter %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.GetOTP(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateOTP rewrites the descriptive and key fields of rec. Owner, expiry,
// validity and created_at are left as stored.
func (r *OTPRepo) UpdateOTP(ctx context.Context, rec otp.Record) error {
	const query = `UPDATE otp_secrets
		SET name = ?, seed = ?, type = ?, issuer = ?, digits = ?, period = ?, algorithm = ?, counter = ?
		WHERE id = ?`
	return r.execOne(ctx, query,
		rec.Name, rec.Seed, rec.Type, rec.Issuer, rec.Digits, rec.Period, rec.Algorithm, int64(rec.Counter), rec.ID,
	)
}

// DeleteOTP removes the record.
func (r *OTPRepo) DeleteOTP(ctx context.Context, id int64) error {
	const query = `DELETE FROM otp_secrets WHERE id = ?`
	return r.execOne(ctx, query, id)
}

func (r *OTPRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("otp secret write: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return otp.ErrNotFound
	}
	return nil
}

func scanOTP(s scanner) (otp.Record, error) {
	var (
		rec              otp.Record
		counter          int64
		expires, created string
	)
	err := s.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.Seed, &rec.Type, &rec.Issuer,
		&rec.Digits, &rec.Period, &rec.Algorithm, &counter, &expires, &rec.Valid, &created)
	if err != nil {
		return otp.Record{}, err
	}
	rec.Counter = uint64(counter)

	if rec.ExpiresAt, err = parseTime(expires); err != nil {
		return otp.Record{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return otp.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	return rec, nil
}
