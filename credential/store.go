package credential

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/rentauth/internal/ids"
	"github.com/MrEthical07/rentauth/password"
)

const (
	maxUsernameLen = 64
	maxFieldLen    = 255
)

// Normalize is the one canonical form identifiers are compared in.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Store wraps a Repository with password hashing, identifier normalization
// and error folding. It never sees or returns plaintext beyond the call that
// receives it.
type Store struct {
	repo   Repository
	hasher *password.Hasher
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wires a Store.
func NewStore(repo Repository, hasher *password.Hasher, opts ...Option) (*Store, error) {
	if repo == nil || hasher == nil {
		return nil, errors.New("credential store requires repository and hasher")
	}
	s := &Store{repo: repo, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Repository returns the underlying repository.
func (s *Store) Repository() Repository { return s.repo }

// FindUserByIdentifier looks up by username or email, case-insensitively.
func (s *Store) FindUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	id := Normalize(identifier)
	if id == "" {
		return User{}, ErrNotFound
	}
	u, err := s.repo.UserByIdentifier(ctx, id)
	return u, fold(err)
}

// FindUserByID looks up by primary key.
func (s *Store) FindUserByID(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrNotFound
	}
	u, err := s.repo.UserByID(ctx, userID)
	return u, fold(err)
}

// UserExists reports whether userID names an account. It satisfies
// permission.UserChecker.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := s.FindUserByID(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// VerifyPassword compares plaintext against the stored hash in constant time.
// Unparseable hashes verify as false.
func (s *Store) VerifyPassword(u User, plaintext string) bool {
	if u.PasswordHash == "" {
		s.hasher.VerifyDummy(plaintext)
		return false
	}
	ok, err := s.hasher.Verify(plaintext, u.PasswordHash)
	return err == nil && ok
}

// VerifyDummy spends the cost of one verification without a user, so a miss
// on the identifier lookup takes as long as a wrong password.
func (s *Store) VerifyDummy(plaintext string) {
	s.hasher.VerifyDummy(plaintext)
}

// NeedsRehash reports whether u's hash is legacy bcrypt or weaker than the
// configured argon2id parameters.
func (s *Store) NeedsRehash(u User) bool {
	return u.PasswordHash != "" && s.hasher.NeedsUpgrade(u.PasswordHash)
}

// HashPassword hashes plaintext with the configured argon2id parameters.
func (s *Store) HashPassword(plaintext string) (string, error) {
	h, err := s.hasher.Hash(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return h, nil
}

// CreateUser validates and normalizes input, hashes the password and inserts
// an active, unverified user.
func (s *Store) CreateUser(ctx context.Context, username, email, plaintext string) (User, error) {
	username = Normalize(username)
	email = Normalize(email)
	if err := validateUsername(username); err != nil {
		return User{}, err
	}
	if err := validateEmail(email); err != nil {
		return User{}, err
	}
	hash, err := s.HashPassword(plaintext)
	if err != nil {
		return User{}, err
	}

	now := s.now()
	u := User{
		ID:           ids.At(now),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return User{}, fold(err)
	}
	return u, nil
}

// RecordActivity appends one activity row, stamping CreatedAt when unset.
func (s *Store) RecordActivity(ctx context.Context, a Activity) error {
	if a.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalid)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.IP = truncate(a.IP, 64)
	a.UserAgent = truncate(a.UserAgent, 512)
	return fold(s.repo.AppendActivity(ctx, a))
}

// MarkVerified flags userID's email as confirmed.
func (s *Store) MarkVerified(ctx context.Context, userID string) error {
	return fold(s.repo.SetVerified(ctx, userID, s.now()))
}

// UpdatePassword stores an already-hashed password.
func (s *Store) UpdatePassword(ctx context.Context, userID, newHash string) error {
	if newHash == "" {
		return fmt.Errorf("%w: empty hash", ErrInvalid)
	}
	return fold(s.repo.SetPasswordHash(ctx, userID, newHash, s.now()))
}

// SetActive activates or deactivates userID.
func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return fold(s.repo.SetActive(ctx, userID, active, s.now()))
}

// UpsertProfile creates the profile on first call and replaces it after.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) (Profile, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	if p.UserID == "" || p.FullName == "" {
		return Profile{}, fmt.Errorf("%w: user id and full name required", ErrInvalid)
	}
	for _, f := range []string{p.FullName, p.AvatarURL, p.Location} {
		if utf8.RuneCountInString(f) > maxFieldLen {
			return Profile{}, fmt.Errorf("%w: field too long", ErrInvalid)
		}
	}
	if p.Birthdate != nil && p.Birthdate.After(s.now()) {
		return Profile{}, fmt.Errorf("%w: birthdate in the future", ErrInvalid)
	}
	p.UpdatedAt = s.now()
	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		return Profile{}, fold(err)
	}
	return p, nil
}

// ProfileOf returns userID's profile or ErrNotFound.
func (s *Store) ProfileOf(ctx context.Context, userID string) (Profile, error) {
	p, err := s.repo.ProfileOf(ctx, userID)
	return p, fold(err)
}

func validateUsername(u string) error {
	if u == "" || len(u) > maxUsernameLen {
		return fmt.Errorf("%w: username length", ErrInvalid)
	}
	for _, r := range u {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.') {
			return fmt.Errorf("%w: username may only contain letters, digits, '.', '_' and '-'", ErrInvalid)
		}
	}
	return nil
}

func validateEmail(e string) error {
	if e == "" || len(e) > maxFieldLen {
		return fmt.Errorf("%w: email length", ErrInvalid)
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return fmt.Errorf("%w: malformed email", ErrInvalid)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// fold keeps the package sentinels and turns everything else into
// ErrUnavailable.
func fold(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate), errors.Is(err, ErrInvalid):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
