package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return h
}

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h := newTestHasher(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := h.Verify("legacy-password-1", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong-password-1", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, ok=%v err=%v", ok, err)
	}
	if !h.NeedsUpgrade(string(legacy)) {
		t.Fatal("expected bcrypt hash to need upgrade")
	}
}

func TestHasherProducesArgon2(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("fresh-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if h.NeedsUpgrade(hash) {
		t.Fatal("fresh hash should not need upgrade")
	}
	ok, err := h.Verify("fresh-password-1", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify success, ok=%v err=%v", ok, err)
	}
}

func TestHasherRejectsUnknownFormat(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Verify("whatever-password", "$pbkdf2$xyz")
	if !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	a, err := NewArgon2(cheapConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	hash, err := a.Hash("padding-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	parts := strings.Split(hash, "$")
	for _, i := range []int{4, 5} {
		for len(parts[i])%4 != 0 {
			parts[i] += "="
		}
	}
	padded := strings.Join(parts, "$")

	ok, err := a.Verify("padding-password", padded)
	if err != nil || !ok {
		t.Fatalf("expected padded hash to verify, ok=%v err=%v", ok, err)
	}
}
