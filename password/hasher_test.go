package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy#Pass1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := h.Verify("Legacy#Pass1", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("legacy#pass1", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected wrong secret to fail: ok=%v err=%v", ok, err)
	}
	if !h.NeedsUpgrade(string(legacy)) {
		t.Fatal("expected bcrypt hash to need upgrade")
	}
}

func TestHasherArgonRoundTrip(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := h.Hash("Modern#Pass1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := h.Verify("Modern#Pass1", hash)
	if err != nil || !ok {
		t.Fatalf("expected argon2id hash to verify: ok=%v err=%v", ok, err)
	}
	if h.NeedsUpgrade(hash) {
		t.Fatal("expected fresh hash not to need upgrade")
	}
}

func TestHasherEmptyAndUnknownHashes(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	ok, err := h.Verify("anything", "")
	if err != nil || ok {
		t.Fatalf("expected empty stored hash to never match: ok=%v err=%v", ok, err)
	}

	_, err = h.Verify("anything", "{SHA}deadbeef")
	if !errors.Is(err, ErrUnknownHashFormat) {
		t.Fatalf("expected ErrUnknownHashFormat, got %v", err)
	}
}
