package permission

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// UserChecker reports whether a user row exists. MemoryStore uses it to keep
// user edges non-dangling.
type UserChecker interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// MemoryStore is an in-process Store for tests and single-node tools.
type MemoryStore struct {
	users UserChecker

	mu         sync.RWMutex
	roles      map[string]Role       // by ID
	perms      map[string]Permission // by ID
	roleByName map[string]string
	permByName map[string]string
	userRoles  map[string]map[string]struct{} // userID -> roleIDs
	rolePerms  map[string]map[string]struct{} // roleID -> permIDs
}

// NewMemoryStore returns an empty store. users may be nil, in which case any
// user ID is accepted.
func NewMemoryStore(users UserChecker) *MemoryStore {
	return &MemoryStore{
		users:      users,
		roles:      make(map[string]Role),
		perms:      make(map[string]Permission),
		roleByName: make(map[string]string),
		permByName: make(map[string]string),
		userRoles:  make(map[string]map[string]struct{}),
		rolePerms:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) CreateRole(_ context.Context, r Role) (Role, error) {
	if r.Name == "" {
		return Role{}, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roleByName[r.Name]; ok {
		return Role{}, ErrConflict
	}
	r.ID = uuid.NewString()
	s.roles[r.ID] = r
	s.roleByName[r.Name] = r.ID
	return r, nil
}

func (s *MemoryStore) CreatePermission(_ context.Context, p Permission) (Permission, error) {
	if p.Name == "" {
		return Permission{}, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permByName[p.Name]; ok {
		return Permission{}, ErrConflict
	}
	p.ID = uuid.NewString()
	s.perms[p.ID] = p
	s.permByName[p.Name] = p.ID
	return p, nil
}

func (s *MemoryStore) RoleByName(_ context.Context, name string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleByName[name]
	if !ok {
		return Role{}, ErrNotFound
	}
	return s.roles[id], nil
}

func (s *MemoryStore) PermissionByName(_ context.Context, name string) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permByName[name]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return s.perms[id], nil
}

func (s *MemoryStore) AssignRole(ctx context.Context, userID, roleID string) error {
	if s.users != nil {
		ok, err := s.users.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	addEdge(s.userRoles, userID, roleID)
	return nil
}

func (s *MemoryStore) RevokeRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles[userID], roleID)
	return nil
}

func (s *MemoryStore) GrantPermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.perms[permissionID]; !ok {
		return ErrNotFound
	}
	addEdge(s.rolePerms, roleID, permissionID)
	return nil
}

func (s *MemoryStore) RevokePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rolePerms[roleID], permissionID)
	return nil
}

func (s *MemoryStore) RolesOf(_ context.Context, userID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.userRoles[userID]))
	for id := range s.userRoles[userID] {
		out = append(out, s.roles[id])
	}
	return out, nil
}

func (s *MemoryStore) PermissionsOf(_ context.Context, userID string) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []Permission{}
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			seen[permID] = struct{}{}
			out = append(out, s.perms[permID])
		}
	}
	return out, nil
}

func addEdge(edges map[string]map[string]struct{}, from, to string) {
	set, ok := edges[from]
	if !ok {
		set = make(map[string]struct{})
		edges[from] = set
	}
	set[to] = struct{}{}
}
