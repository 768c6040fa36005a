// Package storetest holds the behaviour every token.Store must share. Backends
// call Run from their own tests.
package storetest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/rentauth/token"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func hashOf(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func record(id, user string, created time.Time) token.Record {
	return token.Record{
		ID:        id,
		UserID:    user,
		TokenHash: hashOf(id),
		State:     token.StateActive,
		ExpiresAt: created.Add(time.Hour),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// Run exercises newStore against the token.Store contract. newStore must
// return an empty store each call.
func Run(t *testing.T, newStore func(t *testing.T) token.Store) {
	t.Run("RotateOnce", func(t *testing.T) { testRotateOnce(t, newStore(t)) })
	t.Run("RotateExpired", func(t *testing.T) { testRotateExpired(t, newStore(t)) })
	t.Run("RotateUnknown", func(t *testing.T) { testRotateUnknown(t, newStore(t)) })
	t.Run("RevokeIdempotent", func(t *testing.T) { testRevokeIdempotent(t, newStore(t)) })
	t.Run("RevokeAllForUser", func(t *testing.T) { testRevokeAll(t, newStore(t)) })
	t.Run("MaxActiveEvictsOldest", func(t *testing.T) { testMaxActive(t, newStore(t)) })
	t.Run("ConcurrentRotateSingleWinner", func(t *testing.T) { testConcurrentRotate(t, newStore(t)) })
	t.Run("PurgeDead", func(t *testing.T) { testPurge(t, newStore(t)) })
	t.Run("LookupReadsWithoutChanging", func(t *testing.T) { testLookup(t, newStore(t)) })
}

func testLookup(t *testing.T, s token.Store) {
	ctx := context.Background()
	if _, err := s.Lookup(ctx, hashOf("missing")); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Insert(ctx, record("a", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// An expired row is reported as stored, not swept.
	late := epoch.Add(2 * time.Hour)
	for i := 0; i < 2; i++ {
		got, err := s.Lookup(ctx, hashOf("a"))
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if got.ID != "a" || got.UserID != "u1" || got.State != token.StateActive || !got.ExpiresAt.Equal(epoch.Add(time.Hour)) {
			t.Fatalf("lookup %d: unexpected row %+v", i, got)
		}
	}
	if _, err := s.Rotate(ctx, hashOf("a"), record("b", "", late), late); !errors.Is(err, token.ErrRowExpired) {
		t.Fatalf("expected ErrRowExpired after lookups, got %v", err)
	}

	if err := s.Insert(ctx, record("c", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	now := epoch.Add(time.Minute)
	if _, err := s.Rotate(ctx, hashOf("c"), record("d", "", now), now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	got, err := s.Lookup(ctx, hashOf("c"))
	if err != nil || got.State != token.StateRotated || got.ReplacedBy != "d" {
		t.Fatalf("rotated row = (%+v, %v)", got, err)
	}
}

func testRotateOnce(t *testing.T, s token.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("a", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	now := epoch.Add(time.Minute)
	next := record("b", "", now)
	old, err := s.Rotate(ctx, hashOf("a"), next, now)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if old.State != token.StateRotated || old.ReplacedBy != "b" || old.UserID != "u1" {
		t.Fatalf("unexpected old row %+v", old)
	}

	again, err := s.Rotate(ctx, hashOf("a"), record("c", "", now), now)
	if !errors.Is(err, token.ErrNotActive) {
		t.Fatalf("expected ErrNotActive on reuse, got %v", err)
	}
	if again.UserID != "u1" || again.State != token.StateRotated {
		t.Fatalf("reuse must report the owner and state, got %+v", again)
	}

	n, err := s.ActiveCount(ctx, "u1", now)
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the successor to be the only live row, got %d", n)
	}

	if _, err := s.Rotate(ctx, hashOf("b"), record("d", "", now), now); err != nil {
		t.Fatalf("successor must rotate: %v", err)
	}
}

func testRotateExpired(t *testing.T, s token.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("a", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	late := epoch.Add(time.Hour)
	old, err := s.Rotate(ctx, hashOf("a"), record("b", "", late), late)
	if !errors.Is(err, token.ErrRowExpired) {
		t.Fatalf("expected ErrRowExpired, got %v", err)
	}
	if old.State != token.StateExpired {
		t.Fatalf("expected row marked expired, got %s", old.State)
	}
	if _, err := s.Rotate(ctx, hashOf("a"), record("c", "", late), late); !errors.Is(err, token.ErrNotActive) {
		t.Fatalf("expired row must stay dead, got %v", err)
	}
	if _, err := s.Rotate(ctx, hashOf("b"), record("e", "", late), late); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("no successor may be written for an expired row, got %v", err)
	}
}

func testRotateUnknown(t *testing.T, s token.Store) {
	_, err := s.Rotate(context.Background(), hashOf("missing"), record("b", "", epoch), epoch)
	if !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.RevokeByHash(context.Background(), hashOf("missing"), epoch); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from revoke, got %v", err)
	}
}

func testRevokeIdempotent(t *testing.T, s token.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("a", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := 0; i < 2; i++ {
		rec, err := s.RevokeByHash(ctx, hashOf("a"), epoch)
		if err != nil {
			t.Fatalf("revoke %d: %v", i, err)
		}
		if rec.State != token.StateRevoked || rec.UserID != "u1" {
			t.Fatalf("revoke %d: unexpected row %+v", i, rec)
		}
	}
	if _, err := s.Rotate(ctx, hashOf("a"), record("b", "", epoch), epoch); !errors.Is(err, token.ErrNotActive) {
		t.Fatalf("revoked row must not rotate, got %v", err)
	}
}

func testRevokeAll(t *testing.T, s token.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Insert(ctx, record(fmt.Sprintf("u1-%d", i), "u1", epoch), 0); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.Insert(ctx, record("u2-0", "u2", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := s.RevokeAllForUser(ctx, "u1", epoch)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 revoked, got %d err=%v", n, err)
	}
	n, err = s.RevokeAllForUser(ctx, "u1", epoch)
	if err != nil || n != 0 {
		t.Fatalf("second revoke-all must find nothing, got %d err=%v", n, err)
	}
	if n, _ := s.ActiveCount(ctx, "u2", epoch); n != 1 {
		t.Fatalf("other users must be untouched, got %d", n)
	}
}

func testMaxActive(t *testing.T, s token.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := record(fmt.Sprintf("r%d", i), "u1", epoch.Add(time.Duration(i)*time.Second))
		if err := s.Insert(ctx, rec, 2); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	now := epoch.Add(5 * time.Second)
	if n, _ := s.ActiveCount(ctx, "u1", now); n != 2 {
		t.Fatalf("expected 2 live rows, got %d", n)
	}
	if _, err := s.Rotate(ctx, hashOf("r0"), record("x", "", now), now); !errors.Is(err, token.ErrNotActive) {
		t.Fatalf("oldest row must be evicted, got %v", err)
	}
	if _, err := s.Rotate(ctx, hashOf("r2"), record("y", "", now), now); err != nil {
		t.Fatalf("newest row must survive: %v", err)
	}
}

func testConcurrentRotate(t *testing.T, s token.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("a", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		rejects atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.Rotate(ctx, hashOf("a"), record(fmt.Sprintf("n%d", i), "", epoch), epoch)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, token.ErrNotActive):
				rejects.Add(1)
			default:
				t.Errorf("worker %d: %v", i, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || rejects.Load() != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d rejects=%d", wins.Load(), rejects.Load())
	}
	if n, _ := s.ActiveCount(ctx, "u1", epoch); n != 1 {
		t.Fatalf("expected one live successor, got %d", n)
	}
}

func testPurge(t *testing.T, s token.Store) {
	ctx := context.Background()
	if err := s.Insert(ctx, record("dead", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, record("live", "u1", epoch), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.RevokeByHash(ctx, hashOf("dead"), epoch); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	n, err := s.PurgeDead(ctx, epoch.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	if _, err := s.RevokeByHash(ctx, hashOf("dead"), epoch); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("purged row must be gone, got %v", err)
	}
	if n, _ := s.ActiveCount(ctx, "u1", epoch); n != 1 {
		t.Fatalf("live row must survive purge, got %d", n)
	}
}
