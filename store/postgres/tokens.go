package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentauth/token"
)

const tokenColumns = `id, user_id, token_hash, state, expires_at, created_at, updated_at, replaced_by`

func scanToken(row rowScanner) (token.Record, error) {
	var (
		r     token.Record
		state string
	)
	err := row.Scan(&r.ID, &r.UserID, &r.TokenHash, &state, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt, &r.ReplacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Record{}, token.ErrNotFound
	}
	if err != nil {
		return token.Record{}, err
	}
	r.State = token.State(state)
	if !r.State.Valid() {
		return token.Record{}, fmt.Errorf("postgres: refresh token %s has unknown state %q", r.ID, state)
	}
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func insertToken(ctx context.Context, tx *sql.Tx, rec token.Record) error {
	_, err := tx.ExecContext(ctx, `
		insert into account__auth__refresh_tokens(`+tokenColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.UserID, rec.TokenHash, string(token.StateActive), rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt, rec.ReplacedBy)
	return err
}

// setState moves a locked row along ev and persists it.
func setState(ctx context.Context, tx *sql.Tx, r *token.Record, ev token.Event, now time.Time) error {
	next, err := token.Transition(r.State, ev)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update account__auth__refresh_tokens
		set state = $2, updated_at = $3, replaced_by = $4
		where id = $1`, r.ID, string(next), now, r.ReplacedBy); err != nil {
		return err
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}

// Insert implements token.Store. With maxActive > 0 the user's live rows are
// serialized on a transaction-scoped advisory lock so concurrent logins
// cannot both slip under the limit.
func (s *Store) Insert(ctx context.Context, rec token.Record, maxActive int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if maxActive > 0 {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, rec.UserID); err != nil {
			return err
		}
		if err := evictOldest(ctx, tx, rec.UserID, maxActive, rec.CreatedAt); err != nil {
			return err
		}
	}
	if err := insertToken(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func evictOldest(ctx context.Context, tx *sql.Tx, userID string, maxActive int, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		select `+tokenColumns+`
		from account__auth__refresh_tokens
		where user_id = $1 and state = $2 and expires_at > $3
		order by created_at
		for update`, userID, string(token.StateActive), now)
	if err != nil {
		return err
	}
	var live []token.Record
	for rows.Next() {
		r, err := scanToken(rows)
		if err != nil {
			rows.Close()
			return err
		}
		live = append(live, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := 0; i <= len(live)-maxActive; i++ {
		if err := setState(ctx, tx, &live[i], token.EventRevoke, now); err != nil {
			return err
		}
	}
	return nil
}

// Lookup implements token.Store.
func (s *Store) Lookup(ctx context.Context, hash []byte) (token.Record, error) {
	return scanToken(s.db.QueryRowContext(ctx, `
		select `+tokenColumns+`
		from account__auth__refresh_tokens
		where token_hash = $1`, hash))
}

func lockByHash(ctx context.Context, tx *sql.Tx, hash []byte) (token.Record, error) {
	return scanToken(tx.QueryRowContext(ctx, `
		select `+tokenColumns+`
		from account__auth__refresh_tokens
		where token_hash = $1
		for update`, hash))
}

// Rotate implements token.Store. The row lock makes concurrent presentations
// of one token queue up; every one after the winner reads a Rotated row.
func (s *Store) Rotate(ctx context.Context, oldHash []byte, next token.Record, now time.Time) (token.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return token.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	old, err := lockByHash(ctx, tx, oldHash)
	if err != nil {
		return token.Record{}, err
	}
	if old.State.Terminal() {
		return old, token.ErrNotActive
	}
	if !now.Before(old.ExpiresAt) {
		if err := setState(ctx, tx, &old, token.EventExpire, now); err != nil {
			return token.Record{}, err
		}
		if err := tx.Commit(); err != nil {
			return token.Record{}, err
		}
		return old, token.ErrRowExpired
	}

	old.ReplacedBy = next.ID
	if err := setState(ctx, tx, &old, token.EventUse, now); err != nil {
		return token.Record{}, err
	}
	next.UserID = old.UserID
	if err := insertToken(ctx, tx, next); err != nil {
		return token.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return token.Record{}, err
	}
	return old, nil
}

// RevokeByHash implements token.Store.
func (s *Store) RevokeByHash(ctx context.Context, hash []byte, now time.Time) (token.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return token.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := lockByHash(ctx, tx, hash)
	if err != nil {
		return token.Record{}, err
	}
	if r.State.Terminal() {
		return r, nil
	}
	if err := setState(ctx, tx, &r, token.EventRevoke, now); err != nil {
		return token.Record{}, err
	}
	return r, tx.Commit()
}

// RevokeAllForUser implements token.Store.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	revoked, err := token.Transition(token.StateActive, token.EventRevoke)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		update account__auth__refresh_tokens
		set state = $3, updated_at = $2
		where user_id = $1 and state = $4`,
		userID, now, string(revoked), string(token.StateActive))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ActiveCount implements token.Store.
func (s *Store) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from account__auth__refresh_tokens
		where user_id = $1 and state = $2 and expires_at > $3`,
		userID, string(token.StateActive), now).Scan(&n)
	return n, err
}

// PurgeDead implements token.Store.
func (s *Store) PurgeDead(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from account__auth__refresh_tokens
		where (state <> $2 or expires_at <= $1) and updated_at < $1`,
		cutoff, string(token.StateActive))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
