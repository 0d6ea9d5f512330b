package keyward

import (
	"context"
	"fmt"

	"github.com/thisjowi/keyward/vault"
)

// VaultEntry is a password-manager record as seen by callers.
type VaultEntry = vault.Entry

// Note is a free-form note as seen by callers.
type Note = vault.Note

// SaveEntry seals and stores a new entry for the identity behind token.
func (e *Engine) SaveEntry(ctx context.Context, token string, entry VaultEntry) (VaultEntry, error) {
	if e == nil || e.entries == nil {
		return VaultEntry{}, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return VaultEntry{}, err
	}

	entry.ID = 0
	entry.OwnerID = owner
	entry.UpdatedAt = e.now().UTC()
	sealed, err := e.vault.ProtectEntry(entry)
	if err != nil {
		return VaultEntry{}, err
	}
	stored, err := e.entries.InsertEntry(ctx, sealed)
	if err != nil {
		return VaultEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	entry.ID = stored.ID
	return entry, nil
}

// ListEntries returns the decrypted entries of the identity behind token.
// Fields stored before encryption are served as stored and re-sealed in place.
func (e *Engine) ListEntries(ctx context.Context, token string) ([]VaultEntry, error) {
	if e == nil || e.entries == nil {
		return nil, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return nil, err
	}

	stored, err := e.entries.ListEntriesByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]VaultEntry, 0, len(stored))
	for _, s := range stored {
		plain, report, err := e.vault.RevealEntry(ctx, s)
		if err != nil {
			return nil, err
		}
		if report.NeedsBackfill() {
			e.backfillEntry(ctx, plain)
		}
		out = append(out, plain)
	}
	return out, nil
}

// UpdateEntry replaces an entry owned by the identity behind token.
func (e *Engine) UpdateEntry(ctx context.Context, token string, entry VaultEntry) (VaultEntry, error) {
	if e == nil || e.entries == nil {
		return VaultEntry{}, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return VaultEntry{}, err
	}
	if _, err := e.ownedEntry(ctx, owner, entry.ID); err != nil {
		return VaultEntry{}, err
	}

	entry.OwnerID = owner
	entry.UpdatedAt = e.now().UTC()
	sealed, err := e.vault.ProtectEntry(entry)
	if err != nil {
		return VaultEntry{}, err
	}
	if err := e.entries.UpdateEntry(ctx, sealed); err != nil {
		return VaultEntry{}, fmt.Errorf("update entry: %w", err)
	}
	return entry, nil
}

// DeleteEntry removes an entry owned by the identity behind token.
func (e *Engine) DeleteEntry(ctx context.Context, token string, id int64) error {
	if e == nil || e.entries == nil {
		return ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return err
	}
	if _, err := e.ownedEntry(ctx, owner, id); err != nil {
		return err
	}
	return e.entries.DeleteEntry(ctx, id)
}

func (e *Engine) ownedEntry(ctx context.Context, owner, id int64) (VaultEntry, error) {
	stored, err := e.entries.GetEntry(ctx, id)
	if err != nil {
		return VaultEntry{}, err
	}
	if stored.OwnerID != owner {
		e.emitAudit(ctx, auditEventAccessDenied, false, owner, ErrForbidden, idMetadata("entry_id", id))
		return VaultEntry{}, ErrForbidden
	}
	return stored, nil
}

func (e *Engine) backfillEntry(ctx context.Context, plain VaultEntry) {
	sealed, err := e.vault.ProtectEntry(plain)
	if err == nil {
		err = e.entries.UpdateEntry(ctx, sealed)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "entry backfill failed", "entry_id", plain.ID, "error", err)
	}
}

// SaveNote seals and stores a new note for the identity behind token.
func (e *Engine) SaveNote(ctx context.Context, token string, note Note) (Note, error) {
	if e == nil || e.notes == nil {
		return Note{}, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return Note{}, err
	}

	now := e.now().UTC()
	note.ID = 0
	note.OwnerID = owner
	note.CreatedAt = now
	note.UpdatedAt = now
	sealed, err := e.vault.ProtectNote(note)
	if err != nil {
		return Note{}, err
	}
	stored, err := e.notes.InsertNote(ctx, sealed)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	note.ID = stored.ID
	return note, nil
}

// ListNotes returns the decrypted notes of the identity behind token.
func (e *Engine) ListNotes(ctx context.Context, token string) ([]Note, error) {
	if e == nil || e.notes == nil {
		return nil, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return nil, err
	}

	stored, err := e.notes.ListNotesByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return e.revealNotes(ctx, stored)
}

// SearchNotes returns the decrypted notes of the identity behind token whose
// title contains query, ignoring case.
func (e *Engine) SearchNotes(ctx context.Context, token, query string) ([]Note, error) {
	if e == nil || e.notes == nil {
		return nil, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return nil, err
	}
	stored, err := e.notes.FindNotesByTitle(ctx, owner, query)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	return e.revealNotes(ctx, stored)
}

// GetNoteByTitle returns the owner's note titled exactly title. With several
// such notes the oldest wins. ErrNotFound when there is none.
func (e *Engine) GetNoteByTitle(ctx context.Context, token, title string) (Note, error) {
	if e == nil || e.notes == nil {
		return Note{}, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return Note{}, err
	}
	stored, err := e.noteByTitle(ctx, owner, title)
	if err != nil {
		return Note{}, err
	}
	notes, err := e.revealNotes(ctx, []Note{stored})
	if err != nil {
		return Note{}, err
	}
	return notes[0], nil
}

// UpdateNoteByTitle replaces the note titled title with note. note.Title may
// rename it; an empty note.Title keeps the old one.
func (e *Engine) UpdateNoteByTitle(ctx context.Context, token, title string, note Note) (Note, error) {
	if e == nil || e.notes == nil {
		return Note{}, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return Note{}, err
	}
	existing, err := e.noteByTitle(ctx, owner, title)
	if err != nil {
		return Note{}, err
	}
	note.ID = existing.ID
	if note.Title == "" {
		note.Title = existing.Title
	}
	return e.replaceNote(ctx, owner, existing, note)
}

// DeleteNoteByTitle removes the note titled title.
func (e *Engine) DeleteNoteByTitle(ctx context.Context, token, title string) error {
	if e == nil || e.notes == nil {
		return ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return err
	}
	existing, err := e.noteByTitle(ctx, owner, title)
	if err != nil {
		return err
	}
	return e.notes.DeleteNote(ctx, existing.ID)
}

func (e *Engine) noteByTitle(ctx context.Context, owner int64, title string) (Note, error) {
	candidates, err := e.notes.FindNotesByTitle(ctx, owner, title)
	if err != nil {
		return Note{}, fmt.Errorf("find note by title: %w", err)
	}
	for _, n := range candidates {
		if n.OwnerID == owner && n.Title == title {
			return n, nil
		}
	}
	return Note{}, ErrNotFound
}

func (e *Engine) revealNotes(ctx context.Context, stored []Note) ([]Note, error) {
	out := make([]Note, 0, len(stored))
	for _, s := range stored {
		plain, report, err := e.vault.RevealNote(ctx, s)
		if err != nil {
			return nil, err
		}
		if report.NeedsBackfill() {
			e.backfillNote(ctx, plain)
		}
		out = append(out, plain)
	}
	return out, nil
}

// UpdateNote replaces the title and body of a note owned by the identity
// behind token. CreatedAt is kept from the stored row.
func (e *Engine) UpdateNote(ctx context.Context, token string, note Note) (Note, error) {
	if e == nil || e.notes == nil {
		return Note{}, ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return Note{}, err
	}
	existing, err := e.ownedNote(ctx, owner, note.ID)
	if err != nil {
		return Note{}, err
	}
	return e.replaceNote(ctx, owner, existing, note)
}

func (e *Engine) replaceNote(ctx context.Context, owner int64, existing, note Note) (Note, error) {
	note.OwnerID = owner
	note.CreatedAt = existing.CreatedAt
	note.UpdatedAt = e.now().UTC()
	sealed, err := e.vault.ProtectNote(note)
	if err != nil {
		return Note{}, err
	}
	if err := e.notes.UpdateNote(ctx, sealed); err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	return note, nil
}

// DeleteNote removes a note owned by the identity behind token.
func (e *Engine) DeleteNote(ctx context.Context, token string, id int64) error {
	if e == nil || e.notes == nil {
		return ErrEngineNotReady
	}
	owner, err := e.identityFromToken(token)
	if err != nil {
		return err
	}
	if _, err := e.ownedNote(ctx, owner, id); err != nil {
		return err
	}
	return e.notes.DeleteNote(ctx, id)
}

func (e *Engine) ownedNote(ctx context.Context, owner, id int64) (Note, error) {
	stored, err := e.notes.GetNote(ctx, id)
	if err != nil {
		return Note{}, err
	}
	if stored.OwnerID != owner {
		e.emitAudit(ctx, auditEventAccessDenied, false, owner, ErrForbidden, idMetadata("note_id", id))
		return Note{}, ErrForbidden
	}
	return stored, nil
}

func (e *Engine) backfillNote(ctx context.Context, plain Note) {
	sealed, err := e.vault.ProtectNote(plain)
	if err == nil {
		err = e.notes.UpdateNote(ctx, sealed)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "note backfill failed", "note_id", plain.ID, "error", err)
	}
}
