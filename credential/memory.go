package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is a Repository held in process memory, for tests and
// demos. Uniqueness is enforced on lower-cased username and email.
type MemoryRepository struct {
	mu         sync.RWMutex
	users      map[string]User
	byUsername map[string]string
	byEmail    map[string]string
	profiles   map[string]Profile
	activity   []Activity
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[string]User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		profiles:   make(map[string]Profile),
	}
}

func (m *MemoryRepository) UserByIdentifier(_ context.Context, identifier string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[identifier]
	if !ok {
		id, ok = m.byEmail[identifier]
	}
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *MemoryRepository) UserByID(_ context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// UserExists lets a MemoryRepository back permission.MemoryStore directly.
func (m *MemoryRepository) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *MemoryRepository) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	username, email := Normalize(u.Username), Normalize(u.Email)
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byUsername[username]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byEmail[email]; ok {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	m.byUsername[username] = u.ID
	m.byEmail[email] = u.ID
	return nil
}

func (m *MemoryRepository) update(userID string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	m.users[userID] = u
	return nil
}

func (m *MemoryRepository) SetVerified(_ context.Context, userID string, at time.Time) error {
	return m.update(userID, func(u *User) {
		u.Verified = true
		u.UpdatedAt = at
	})
}

func (m *MemoryRepository) SetActive(_ context.Context, userID string, active bool, at time.Time) error {
	return m.update(userID, func(u *User) {
		u.Active = active
		u.UpdatedAt = at
	})
}

func (m *MemoryRepository) SetPasswordHash(_ context.Context, userID, hash string, at time.Time) error {
	return m.update(userID, func(u *User) {
		u.PasswordHash = hash
		u.UpdatedAt = at
	})
}

func (m *MemoryRepository) AppendActivity(_ context.Context, a Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.UserID != "" {
		if _, ok := m.users[a.UserID]; !ok {
			return ErrNotFound
		}
	}
	m.activity = append(m.activity, a)
	return nil
}

func (m *MemoryRepository) UpsertProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[p.UserID]; !ok {
		return ErrNotFound
	}
	m.profiles[p.UserID] = p
	return nil
}

func (m *MemoryRepository) ProfileOf(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// Activity returns a copy of the activity log in append order.
func (m *MemoryRepository) Activity() []Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Activity(nil), m.activity...)
}
