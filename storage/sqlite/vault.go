package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/thisjowi/keyward"
	"github.com/thisjowi/keyward/vault"
)

var (
	_ keyward.EntryStore = (*EntryRepo)(nil)
	_ keyward.NoteStore  = (*NoteRepo)(nil)
)

// EntryRepo is the SQLite implementation of keyward.EntryStore.
type EntryRepo struct {
	db *DB
}

// NewEntryRepo creates an EntryRepo backed by db.
func NewEntryRepo(db *DB) *EntryRepo {
	return &EntryRepo{db: db}
}

const entryColumns = `id, owner_id, name, secret, website, updated_at`

func (r *EntryRepo) InsertEntry(ctx context.Context, e vault.Entry) (vault.Entry, error) {
	const query = `INSERT INTO vault_entries (owner_id, name, secret, website, updated_at) VALUES (?, ?, ?, ?, ?)`

	res, err := r.db.Writer.ExecContext(ctx, query, e.OwnerID, e.Name, e.Secret, e.Website, formatTime(e.UpdatedAt))
	if err != nil {
		return vault.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return vault.Entry{}, fmt.Errorf("read entry id: %w", err)
	}
	return e, nil
}

func (r *EntryRepo) GetEntry(ctx context.Context, id int64) (vault.Entry, error) {
	const query = `SELECT ` + entryColumns + ` FROM vault_entries WHERE id = ?`

	e, err := scanEntry(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Entry{}, keyward.ErrNotFound
	}
	if err != nil {
		return vault.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

func (r *EntryRepo) ListEntriesByOwner(ctx context.Context, ownerID int64) ([]vault.Entry, error) {
	const query = `SELECT ` + entryColumns + ` FROM vault_entries WHERE owner_id = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []vault.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func (r *EntryRepo) UpdateEntry(ctx context.Context, e vault.Entry) error {
	const query = `UPDATE vault_entries SET name = ?, secret = ?, website = ?, updated_at = ? WHERE id = ?`
	return execOne(ctx, r.db, query, e.Name, e.Secret, e.Website, formatTime(e.UpdatedAt), e.ID)
}

func (r *EntryRepo) DeleteEntry(ctx context.Context, id int64) error {
	return execOne(ctx, r.db, `DELETE FROM vault_entries WHERE id = ?`, id)
}

func scanEntry(s scanner) (vault.Entry, error) {
	var (
		e       vault.Entry
		updated string
	)
	err := s.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Secret, &e.Website, &updated)
	if err != nil {
		return vault.Entry{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return vault.Entry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return e, nil
}

// NoteRepo is the SQLite implementation of keyward.NoteStore.
type NoteRepo struct {
	db *DB
}

// NewNoteRepo creates a NoteRepo backed by db.
func NewNoteRepo(db *DB) *NoteRepo {
	return &NoteRepo{db: db}
}

const noteColumns = `id, owner_id, title, body, created_at, updated_at`

func (r *NoteRepo) InsertNote(ctx context.Context, n vault.Note) (vault.Note, error) {
	const query = `INSERT INTO notes (owner_id, title, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	res, err := r.db.Writer.ExecContext(ctx, query, n.OwnerID, n.Title, n.Body, formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	if err != nil {
		return vault.Note{}, fmt.Errorf("insert note: %w", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return vault.Note{}, fmt.Errorf("read note id: %w", err)
	}
	return n, nil
}

func (r *NoteRepo) GetNote(ctx context.Context, id int64) (vault.Note, error) {
	const query = `SELECT ` + noteColumns + ` FROM notes WHERE id = ?`

	n, err := scanNote(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return vault.Note{}, keyward.ErrNotFound
	}
	if err != nil {
		return vault.Note{}, fmt.Errorf("get note %d: %w", id, err)
	}
	return n, nil
}

func (r *NoteRepo) ListNotesByOwner(ctx context.Context, ownerID int64) ([]vault.Note, error) {
	const query = `SELECT ` + noteColumns + ` FROM notes WHERE owner_id = ? ORDER BY id`
	return r.queryNotes(ctx, query, ownerID)
}

// FindNotesByTitle matches fragment against titles case-insensitively. LIKE
// wildcards in fragment are matched literally.
func (r *NoteRepo) FindNotesByTitle(ctx context.Context, ownerID int64, fragment string) ([]vault.Note, error) {
	const query = `SELECT ` + noteColumns + ` FROM notes WHERE owner_id = ? AND lower(title) LIKE ? ESCAPE '\' ORDER BY id`
	return r.queryNotes(ctx, query, ownerID, "%"+likeEscaper.Replace(strings.ToLower(fragment))+"%")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *NoteRepo) queryNotes(ctx context.Context, query string, args ...any) ([]vault.Note, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []vault.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return out, nil
}

// UpdateNote rewrites title, body and updated_at. created_at is immutable.
func (r *NoteRepo) UpdateNote(ctx context.Context, n vault.Note) error {
	const query = `UPDATE notes SET title = ?, body = ?, updated_at = ? WHERE id = ?`
	return execOne(ctx, r.db, query, n.Title, n.Body, formatTime(n.UpdatedAt), n.ID)
}

func (r *NoteRepo) DeleteNote(ctx context.Context, id int64) error {
	return execOne(ctx, r.db, `DELETE FROM notes WHERE id = ?`, id)
}

func scanNote(s scanner) (vault.Note, error) {
	var (
		n                vault.Note
		created, updated string
	)
	err := s.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &created, &updated)
	if err != nil {
		return vault.Note{}, err
	}
	if n.CreatedAt, err = parseTime(created); err != nil {
		return vault.Note{}, fmt.Errorf("parse created_at: %w", err)
	}
	if n.UpdatedAt, err = parseTime(updated); err != nil {
		return vault.Note{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return n, nil
}

// execOne runs a write that must touch exactly one row, mapping zero rows to
// keyward.ErrNotFound.
func execOne(ctx context.Context, db *DB, query string, args ...any) error {
	res, err := db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return keyward.ErrNotFound
	}
	return nil
}
