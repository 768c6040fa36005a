package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// RefreshSecretSize is the entropy of an opaque refresh token in bytes.
const RefreshSecretSize = 32

// ErrRefreshTokenFormat reports a refresh token that is not 32 base64url bytes.
var ErrRefreshTokenFormat = errors.New("invalid refresh token format")

// RefreshSecret is the raw refresh token value. Only its SHA-256 is stored.
type RefreshSecret [RefreshSecretSize]byte

// NewRefreshSecret draws a fresh secret from crypto/rand.
func NewRefreshSecret() (RefreshSecret, error) {
	var secret RefreshSecret
	_, err := rand.Read(secret[:])
	return secret, err
}

// Hash returns the lookup key persisted in place of the secret.
func (s RefreshSecret) Hash() []byte {
	sum := sha256.Sum256(s[:])
	return sum[:]
}

// String encodes the secret as unpadded base64url, the wire form.
func (s RefreshSecret) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// DecodeRefreshToken parses the wire form.
func DecodeRefreshToken(token string) (RefreshSecret, error) {
	var secret RefreshSecret
	if base64.RawURLEncoding.DecodedLen(len(token)) != RefreshSecretSize {
		return secret, ErrRefreshTokenFormat
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != RefreshSecretSize {
		return secret, ErrRefreshTokenFormat
	}
	copy(secret[:], raw)
	// Reject non-canonical spellings (stray newlines, non-zero pad bits) so
	// one secret has exactly one wire form.
	if secret.String() != token {
		return RefreshSecret{}, ErrRefreshTokenFormat
	}
	return secret, nil
}
