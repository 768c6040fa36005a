package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/rentauth/credential"
)

const userColumns = `id, username, email, password_hash, is_active, is_verified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (credential.User, error) {
	var u credential.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.User{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// UserByIdentifier implements credential.Repository.
func (s *Store) UserByIdentifier(ctx context.Context, identifier string) (credential.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from account__auth__users
		where lower(username) = $1 or lower(email) = $1
		limit 1`, identifier))
}

// UserByID implements credential.Repository.
func (s *Store) UserByID(ctx context.Context, userID string) (credential.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from account__auth__users
		where id = $1`, userID))
}

// UserExists satisfies permission.UserChecker.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from account__auth__users where id = $1)`, userID).Scan(&exists)
	return exists, err
}

// CreateUser implements credential.Repository.
func (s *Store) CreateUser(ctx context.Context, u credential.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into account__auth__users(`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Active, u.Verified, u.CreatedAt, u.UpdatedAt)
	if isUnique(err) {
		return credential.ErrDuplicate
	}
	return err
}

// SetVerified implements credential.Repository.
func (s *Store) SetVerified(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, `update account__auth__users set is_verified = true, updated_at = $2 where id = $1`, userID, at)
}

// SetActive implements credential.Repository.
func (s *Store) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	return s.updateUser(ctx, `update account__auth__users set is_active = $3, updated_at = $2 where id = $1`, userID, at, active)
}

// SetPasswordHash implements credential.Repository.
func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return s.updateUser(ctx, `update account__auth__users set password_hash = $3, updated_at = $2 where id = $1`, userID, at, hash)
}

func (s *Store) updateUser(ctx context.Context, query, userID string, at time.Time, extra ...any) error {
	args := append([]any{userID, at}, extra...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// AppendActivity implements credential.Repository. An empty UserID is stored
// as null.
func (s *Store) AppendActivity(ctx context.Context, a credential.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		insert into account__auth__activity(id, user_id, action, ip, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), nullString(a.UserID), string(a.Action), a.IP, a.UserAgent, a.CreatedAt)
	if isForeignKey(err) {
		return credential.ErrNotFound
	}
	return err
}

// UpsertProfile implements credential.Repository.
func (s *Store) UpsertProfile(ctx context.Context, p credential.Profile) error {
	var birthdate sql.NullTime
	if p.Birthdate != nil {
		birthdate = sql.NullTime{Time: *p.Birthdate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into account__auth__profiles(user_id, full_name, bio, avatar_url, location, birthdate, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (user_id) do update
		set full_name = excluded.full_name,
		    bio = excluded.bio,
		    avatar_url = excluded.avatar_url,
		    location = excluded.location,
		    birthdate = excluded.birthdate,
		    updated_at = excluded.updated_at`,
		p.UserID, p.FullName, p.Bio, p.AvatarURL, p.Location, birthdate, p.UpdatedAt)
	if isForeignKey(err) {
		return credential.ErrNotFound
	}
	return err
}

// ProfileOf implements credential.Repository.
func (s *Store) ProfileOf(ctx context.Context, userID string) (credential.Profile, error) {
	var (
		p         credential.Profile
		birthdate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, full_name, bio, avatar_url, location, birthdate, updated_at
		from account__auth__profiles
		where user_id = $1`, userID).
		Scan(&p.UserID, &p.FullName, &p.Bio, &p.AvatarURL, &p.Location, &birthdate, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Profile{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Profile{}, err
	}
	if birthdate.Valid {
		b := birthdate.Time.UTC()
		p.Birthdate = &b
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
