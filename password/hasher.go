package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Hasher produces argon2id hashes and verifies both argon2id and legacy
// bcrypt hashes. Accounts imported from the previous backend carry bcrypt
// hashes; NeedsUpgrade flags them so they are rewritten on the next
// successful login.
type Hasher struct {
	argon *Argon2
	dummy string
}

// New builds a Hasher from argon2id parameters.
func New(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	dummy, err := a.Hash("rentauth-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a, dummy: dummy}, nil
}

// Hash always produces argon2id.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify dispatches on the hash prefix. A mismatch is (false, nil); err is
// reserved for hashes that cannot be parsed.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return h.argon.Verify(password, encoded)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, ErrInvalidHash
		}
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

// VerifyDummy burns the same work as a real argon2id verification. Used when
// the account does not exist so response timing does not reveal that.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.argon.Verify(password, h.dummy)
}

// NeedsUpgrade reports true for every bcrypt hash and for argon2id hashes
// with weaker parameters than configured.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

func isBcrypt(encoded string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(encoded, p) {
			return true
		}
	}
	return false
}
