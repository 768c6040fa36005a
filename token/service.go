package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentauth/internal"
	"github.com/MrEthical07/rentauth/jwt"
	"github.com/google/uuid"
)

var (
	// ErrMalformed reports a refresh token that is not a valid wire value.
	ErrMalformed = errors.New("token: malformed refresh token")
	// ErrExpired reports a refresh token past its lifetime.
	ErrExpired = errors.New("token: refresh token expired")
	// ErrRevokedOrRotated reports a refresh token that is dead or unknown.
	// Presenting a rotated token is treated as theft.
	ErrRevokedOrRotated = errors.New("token: refresh token revoked or rotated")
	// ErrStorage wraps failures of the backing Store.
	ErrStorage = errors.New("token: storage unavailable")
)

// Subject is the authorization snapshot embedded in an access token.
type Subject struct {
	Roles       []string
	Permissions []string
}

// SubjectFunc loads the current snapshot for userID. Returning an error
// aborts issuance and, on Refresh, leaves the presented token untouched.
type SubjectFunc func(ctx context.Context, userID string) (Subject, error)

// Config controls refresh token lifetime and reuse policy.
type Config struct {
	RefreshTTL time.Duration
	// RevokeAllOnReuse revokes every session of a user when one of their
	// rotated tokens is presented again.
	RevokeAllOnReuse bool
	// MaxActivePerUser caps concurrent sessions; 0 is unlimited. The oldest
	// sessions are revoked to make room.
	MaxActivePerUser int
	// RefreshSubject replaces the issuing SubjectFunc on Refresh, so callers
	// can recheck the account before a token is rotated.
	RefreshSubject SubjectFunc
	Now            func() time.Time
}

// Pair is what a successful login or refresh hands back to the caller.
type Pair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	// RefreshID is the row ID of the refresh token, safe to log.
	RefreshID string
	Claims    *jwt.Claims
}

// RefreshError carries the owning user of a rejected refresh token when the
// row was found, so callers can audit it. It unwraps to the reason.
type RefreshError struct {
	UserID string
	// RevokedAll is set when the rejection triggered revocation of every
	// session of UserID.
	RevokedAll bool
	// Reused is set when the presented token had already been rotated.
	Reused bool
	Err    error
}

func (e *RefreshError) Error() string { return e.Err.Error() }
func (e *RefreshError) Unwrap() error { return e.Err }

// Service mints, rotates and revokes credential pairs.
type Service struct {
	cfg     Config
	jwt     *jwt.Manager
	store   Store
	subject SubjectFunc
}

// NewService wires a Service. subject may be nil, in which case tokens carry
// no snapshot.
func NewService(cfg Config, mgr *jwt.Manager, store Store, subject SubjectFunc) (*Service, error) {
	if mgr == nil || store == nil {
		return nil, errors.New("token service requires jwt manager and store")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("refresh TTL must be > 0")
	}
	if cfg.MaxActivePerUser < 0 {
		return nil, errors.New("max active sessions must be >= 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if subject == nil {
		subject = func(context.Context, string) (Subject, error) { return Subject{}, nil }
	}
	if cfg.RefreshSubject == nil {
		cfg.RefreshSubject = subject
	}
	return &Service{cfg: cfg, jwt: mgr, store: store, subject: subject}, nil
}

// IssuePair mints an access token and persists a new refresh token row.
func (s *Service) IssuePair(ctx context.Context, userID string) (*Pair, error) {
	if userID == "" {
		return nil, errors.New("token: empty user id")
	}
	sub, err := s.subject(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()

	secret, rec, err := s.newRecord(userID, now)
	if err != nil {
		return nil, err
	}
	pair, err := s.mint(userID, sub, secret, rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, rec, s.cfg.MaxActivePerUser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair, rotating it atomically.
// Everything that can fail runs before the rotation, so a rejected call
// leaves the presented token as it was. Rejections are *RefreshError values
// wrapping ErrMalformed, ErrExpired, ErrRevokedOrRotated, ErrStorage or the
// RefreshSubject error.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	old, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, &RefreshError{Err: ErrMalformed}
	}
	now := s.cfg.Now()

	cur, err := s.store.Lookup(ctx, old.Hash())
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil, &RefreshError{Err: ErrRevokedOrRotated}
	default:
		return nil, &RefreshError{Err: fmt.Errorf("%w: %w", ErrStorage, err)}
	}

	// Dead and expired rows go straight to Rotate, which classifies them.
	var pair *Pair
	secret, next, err := s.newRecord(cur.UserID, now)
	if err != nil {
		return nil, err
	}
	if cur.State == StateActive && now.Before(cur.ExpiresAt) {
		sub, err := s.cfg.RefreshSubject(ctx, cur.UserID)
		if err != nil {
			return nil, &RefreshError{UserID: cur.UserID, Err: err}
		}
		if pair, err = s.mint(cur.UserID, sub, secret, next); err != nil {
			return nil, &RefreshError{UserID: cur.UserID, Err: err}
		}
	}

	prev, err := s.store.Rotate(ctx, old.Hash(), next, now)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil, &RefreshError{Err: ErrRevokedOrRotated}
	case errors.Is(err, ErrRowExpired):
		return nil, &RefreshError{UserID: prev.UserID, Err: ErrExpired}
	case errors.Is(err, ErrNotActive):
		return nil, s.onReuse(ctx, prev, now)
	default:
		return nil, &RefreshError{Err: fmt.Errorf("%w: %w", ErrStorage, err)}
	}
	if pair == nil {
		// Lookup saw a dead row that Rotate then accepted.
		s.discard(ctx, next, now)
		return nil, &RefreshError{UserID: prev.UserID, Err: ErrExpired}
	}
	return pair, nil
}

func (s *Service) onReuse(ctx context.Context, prev Record, now time.Time) error {
	rerr := &RefreshError{UserID: prev.UserID, Reused: prev.State == StateRotated, Err: ErrRevokedOrRotated}
	if prev.State == StateRotated && s.cfg.RevokeAllOnReuse {
		if _, err := s.store.RevokeAllForUser(ctx, prev.UserID, now); err != nil {
			rerr.Err = fmt.Errorf("%w: revoke-all on reuse: %w", ErrRevokedOrRotated, err)
			return rerr
		}
		rerr.RevokedAll = true
	}
	return rerr
}

// discard kills a successor row whose pair was never handed out.
func (s *Service) discard(ctx context.Context, rec Record, now time.Time) {
	_, _ = s.store.RevokeByHash(context.WithoutCancel(ctx), rec.TokenHash, now)
}

// Revoke kills a single refresh token and returns its owner. Revoking a
// token that is already dead succeeds; an unknown token is
// ErrRevokedOrRotated.
func (s *Service) Revoke(ctx context.Context, refreshToken string) (string, error) {
	secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return "", ErrMalformed
	}
	rec, err := s.store.RevokeByHash(ctx, secret.Hash(), s.cfg.Now())
	if errors.Is(err, ErrNotFound) {
		return "", ErrRevokedOrRotated
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return rec.UserID, nil
}

// RevokeAll kills every live refresh token of userID. Calling it again finds
// nothing to revoke and returns (0, nil).
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := s.store.RevokeAllForUser(ctx, userID, s.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return n, nil
}

// ActiveSessions counts live refresh tokens of userID.
func (s *Service) ActiveSessions(ctx context.Context, userID string) (int, error) {
	n, err := s.store.ActiveCount(ctx, userID, s.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return n, nil
}

// VerifyAccess validates an access token. Errors wrap jwt.ErrSignatureInvalid,
// jwt.ErrExpired or jwt.ErrMalformed.
func (s *Service) VerifyAccess(accessToken string) (*jwt.Claims, error) {
	return s.jwt.Verify(accessToken)
}

// PurgeDead removes rows that died more than retention ago.
func (s *Service) PurgeDead(ctx context.Context, retention time.Duration) (int, error) {
	n, err := s.store.PurgeDead(ctx, s.cfg.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return n, nil
}

func (s *Service) newRecord(userID string, now time.Time) (internal.RefreshSecret, Record, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return secret, Record{}, err
	}
	return secret, Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: secret.Hash(),
		State:     StateActive,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) mint(userID string, sub Subject, secret internal.RefreshSecret, rec Record) (*Pair, error) {
	access, claims, err := s.jwt.Issue(userID, sub.Roles, sub.Permissions)
	if err != nil {
		return nil, err
	}
	return &Pair{
		UserID:           userID,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     secret.String(),
		RefreshExpiresAt: rec.ExpiresAt,
		RefreshID:        rec.ID,
		Claims:           claims,
	}, nil
}
