package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store when no row has the given hash.
	ErrNotFound = errors.New("token: not found")
	// ErrNotActive is returned by Store.Rotate when the row exists but is
	// already dead. The returned Record identifies the owner.
	ErrNotActive = errors.New("token: not active")
	// ErrRowExpired is returned by Store.Rotate after it marked a row Expired.
	ErrRowExpired = errors.New("token: row expired")
)

// Record is one persisted refresh token. The token value itself is never
// stored, only its SHA-256 in TokenHash.
type Record struct {
	ID         string
	UserID     string
	TokenHash  []byte
	State      State
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ReplacedBy string
}

// Store persists refresh tokens. Every method is atomic with respect to the
// rows it touches.
type Store interface {
	// Insert adds an Active row. With maxActive > 0 the oldest Active rows of
	// the same user beyond the limit are revoked in the same transaction.
	Insert(ctx context.Context, rec Record, maxActive int) error

	// Lookup reads the row with hash without changing it, or returns
	// ErrNotFound.
	Lookup(ctx context.Context, hash []byte) (Record, error)

	// Rotate locks the row with oldHash and, in one transaction:
	//   - returns ErrNotFound if it does not exist;
	//   - returns the row and ErrNotActive if it is not Active;
	//   - marks it Expired and returns ErrRowExpired if now >= ExpiresAt;
	//   - otherwise marks it Rotated with ReplacedBy = next.ID and inserts
	//     next with next.UserID copied from the old row.
	// The old row is returned in every case but ErrNotFound.
	Rotate(ctx context.Context, oldHash []byte, next Record, now time.Time) (Record, error)

	// RevokeByHash marks an Active row Revoked. Dead rows are returned
	// unchanged without error.
	RevokeByHash(ctx context.Context, hash []byte, now time.Time) (Record, error)

	// RevokeAllForUser revokes every Active row of userID and returns how
	// many changed. Zero is not an error.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error)

	// ActiveCount returns the number of Active, unexpired rows for userID.
	ActiveCount(ctx context.Context, userID string, now time.Time) (int, error)

	// PurgeDead deletes terminal or expired rows last updated before cutoff.
	PurgeDead(ctx context.Context, cutoff time.Time) (int, error)
}
