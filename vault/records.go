package vault

import (
	"context"
	"time"
)

// Entry is a password-manager record. OwnerID is stored in the clear for
// lookups and ownership checks; every other string field is sealed.
type Entry struct {
	ID        int64
	OwnerID   int64
	Name      string
	Secret    string
	Website   string
	UpdatedAt time.Time
}

// Note is a free-form note. The title stays in the clear so notes can be
// searched; the body is sealed.
type Note struct {
	ID        int64
	OwnerID   int64
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field policies. Entry and note fields may pre-date encryption.
const (
	entryRecord = "vault_entry"
	noteRecord  = "note"

	EntryFieldPolicy = LegacyPlaintext
	NoteFieldPolicy  = LegacyPlaintext
)

// RevealReport lists the fields of one record that were served from stored
// plaintext.
type RevealReport struct {
	Fallbacks []string
}

// NeedsBackfill reports whether any field fell back.
func (r RevealReport) NeedsBackfill() bool {
	return len(r.Fallbacks) > 0
}

// ProtectEntry returns a copy of e with every sensitive field sealed.
func (v *Vault) ProtectEntry(e Entry) (Entry, error) {
	out := e
	var err error
	if out.Name, err = v.Seal(e.Name); err != nil {
		return Entry{}, &FieldError{Field: "name", Err: err}
	}
	if out.Secret, err = v.Seal(e.Secret); err != nil {
		return Entry{}, &FieldError{Field: "secret", Err: err}
	}
	if out.Website, err = v.Seal(e.Website); err != nil {
		return Entry{}, &FieldError{Field: "website", Err: err}
	}
	return out, nil
}

// RevealEntry returns a decrypted copy of a stored entry.
func (v *Vault) RevealEntry(ctx context.Context, stored Entry) (Entry, RevealReport, error) {
	out := stored
	var report RevealReport
	fields := []struct {
		name string
		dst  *string
	}{
		{"name", &out.Name},
		{"secret", &out.Secret},
		{"website", &out.Website},
	}
	for _, f := range fields {
		plain, err := v.open(ctx, entryRecord, stored.ID, f.name, *f.dst, EntryFieldPolicy, &report)
		if err != nil {
			return Entry{}, report, err
		}
		*f.dst = plain
	}
	return out, report, nil
}

// ProtectNote returns a copy of n with the body sealed.
func (v *Vault) ProtectNote(n Note) (Note, error) {
	out := n
	body, err := v.Seal(n.Body)
	if err != nil {
		return Note{}, &FieldError{Field: "body", Err: err}
	}
	out.Body = body
	return out, nil
}

// RevealNote returns a decrypted copy of a stored note.
func (v *Vault) RevealNote(ctx context.Context, stored Note) (Note, RevealReport, error) {
	out := stored
	var report RevealReport
	body, err := v.open(ctx, noteRecord, stored.ID, "body", stored.Body, NoteFieldPolicy, &report)
	if err != nil {
		return Note{}, report, err
	}
	out.Body = body
	return out, report, nil
}

func (v *Vault) open(ctx context.Context, record string, id int64, field, stored string, p Policy, report *RevealReport) (string, error) {
	plain, fellBack, err := v.openField(ctx, FieldRef{Record: record, ID: id, Field: field}, stored, p)
	if err != nil {
		return "", err
	}
	if fellBack {
		report.Fallbacks = append(report.Fallbacks, field)
	}
	return plain, nil
}
