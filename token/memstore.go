package token

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store held in process memory. It is safe for concurrent
// use and is what tests and single-node demos run against.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Record
	byUser map[string][]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Record),
		byUser: make(map[string][]*Record),
	}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, rec Record, maxActive int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(rec, maxActive)
	return nil
}

func (m *MemoryStore) insertLocked(rec Record, maxActive int) {
	if maxActive > 0 {
		active := m.activeLocked(rec.UserID, rec.CreatedAt)
		for i := 0; i <= len(active)-maxActive; i++ {
			m.applyLocked(active[i], EventRevoke, rec.CreatedAt)
		}
	}
	r := rec
	r.TokenHash = append([]byte(nil), rec.TokenHash...)
	m.byHash[string(r.TokenHash)] = &r
	m.byUser[r.UserID] = append(m.byUser[r.UserID], &r)
}

// activeLocked returns the user's live rows, oldest first.
func (m *MemoryStore) activeLocked(userID string, now time.Time) []*Record {
	var out []*Record
	for _, r := range m.byUser[userID] {
		if r.State == StateActive && now.Before(r.ExpiresAt) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) applyLocked(r *Record, ev Event, now time.Time) bool {
	next, err := Transition(r.State, ev)
	if err != nil {
		return false
	}
	r.State = next
	r.UpdatedAt = now
	return true
}

// Rotate implements Store.
func (m *MemoryStore) Rotate(_ context.Context, oldHash []byte, next Record, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byHash[string(oldHash)]
	if !ok {
		return Record{}, ErrNotFound
	}
	if r.State != StateActive {
		return *r, ErrNotActive
	}
	if !now.Before(r.ExpiresAt) {
		m.applyLocked(r, EventExpire, now)
		return *r, ErrRowExpired
	}
	m.applyLocked(r, EventUse, now)
	r.ReplacedBy = next.ID

	next.UserID = r.UserID
	m.insertLocked(next, 0)
	return *r, nil
}

// RevokeByHash implements Store.
func (m *MemoryStore) RevokeByHash(_ context.Context, hash []byte, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byHash[string(hash)]
	if !ok {
		return Record{}, ErrNotFound
	}
	m.applyLocked(r, EventRevoke, now)
	return *r, nil
}

// RevokeAllForUser implements Store.
func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.byUser[userID] {
		if m.applyLocked(r, EventRevoke, now) {
			n++
		}
	}
	return n, nil
}

// ActiveCount implements Store.
func (m *MemoryStore) ActiveCount(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeLocked(userID, now)), nil
}

// PurgeDead implements Store.
func (m *MemoryStore) PurgeDead(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for user, rows := range m.byUser {
		kept := rows[:0]
		for _, r := range rows {
			dead := r.State.Terminal() || !cutoff.Before(r.ExpiresAt)
			if dead && r.UpdatedAt.Before(cutoff) {
				delete(m.byHash, string(r.TokenHash))
				n++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.byUser, user)
		} else {
			m.byUser[user] = kept
		}
	}
	return n, nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(_ context.Context, hash []byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byHash[string(hash)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}
