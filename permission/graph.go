package permission

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultCacheSize bounds the number of cached user resolutions.
const DefaultCacheSize = 10000

// Resolution is the effective role and permission set of one user. It may be
// shared with the cache and must be treated as read-only.
type Resolution struct {
	Roles       []Role
	Permissions []Permission
	names       map[string]struct{}
}

// Has reports exact-name membership.
func (r *Resolution) Has(permission string) bool {
	_, ok := r.names[permission]
	return ok
}

// RoleNames returns role names in sorted order.
func (r *Resolution) RoleNames() []string {
	out := make([]string, len(r.Roles))
	for i, role := range r.Roles {
		out[i] = role.Name
	}
	return out
}

// PermissionNames returns permission names in sorted order.
func (r *Resolution) PermissionNames() []string {
	out := make([]string, len(r.Permissions))
	for i, p := range r.Permissions {
		out[i] = p.Name
	}
	return out
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// Graph answers permission questions over a Store, caching per-user
// resolutions in process.
//
// Every edge mutation holds the cache write lock across the store write and
// the invalidation, and bumps a generation counter. A resolution loaded
// under an older generation is returned to its caller but never cached, so
// once a mutation returns no reader can see the pre-mutation answer.
type Graph struct {
	store Store

	mu       sync.RWMutex
	gen      uint64
	cache    map[string]*Resolution
	capacity int

	hits, misses, invalidations atomic.Uint64
}

// Option configures a Graph.
type Option func(*Graph)

// WithCacheSize sets the maximum number of cached users. Zero disables
// caching; every call then reads the store.
func WithCacheSize(n int) Option {
	return func(g *Graph) { g.capacity = n }
}

// NewGraph wraps store. Each Graph owns its own cache, so tests can build
// isolated graphs.
func NewGraph(store Store, opts ...Option) *Graph {
	g := &Graph{
		store:    store,
		cache:    make(map[string]*Resolution),
		capacity: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store exposes the backing store for reference-data lookups.
func (g *Graph) Store() Store { return g.store }

// Resolve returns the effective set for userID.
func (g *Graph) Resolve(ctx context.Context, userID string) (*Resolution, error) {
	g.mu.RLock()
	res, ok := g.cache[userID]
	gen := g.gen
	g.mu.RUnlock()
	if ok {
		g.hits.Add(1)
		return res, nil
	}
	g.misses.Add(1)

	roles, err := g.store.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := g.store.PermissionsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	res = newResolution(roles, perms)

	if g.capacity > 0 {
		g.mu.Lock()
		if g.gen == gen {
			if len(g.cache) >= g.capacity {
				g.cache = make(map[string]*Resolution)
			}
			g.cache[userID] = res
		}
		g.mu.Unlock()
	}
	return res, nil
}

func newResolution(roles []Role, perms []Permission) *Resolution {
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	names := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		names[p.Name] = struct{}{}
	}
	return &Resolution{Roles: roles, Permissions: perms, names: names}
}

// RolesOf returns the roles held by userID.
func (g *Graph) RolesOf(ctx context.Context, userID string) ([]Role, error) {
	res, err := g.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]Role(nil), res.Roles...), nil
}

// PermissionsOf returns the union of permissions across every held role.
func (g *Graph) PermissionsOf(ctx context.Context, userID string) ([]Permission, error) {
	res, err := g.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]Permission(nil), res.Permissions...), nil
}

// HasPermission is exact-string set membership; there are no wildcards.
func (g *Graph) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	res, err := g.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return res.Has(permission), nil
}

// CreateRole adds reference data. New roles have no edges so nothing is
// invalidated.
func (g *Graph) CreateRole(ctx context.Context, name, description string) (Role, error) {
	if name == "" {
		return Role{}, ErrInvalid
	}
	return g.store.CreateRole(ctx, Role{Name: name, Description: description})
}

// CreatePermission adds reference data.
func (g *Graph) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	if name == "" {
		return Permission{}, ErrInvalid
	}
	return g.store.CreatePermission(ctx, Permission{Name: name, Description: description})
}

// AssignRole binds roleName to userID.
func (g *Graph) AssignRole(ctx context.Context, userID, roleName string) error {
	role, err := g.store.RoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return g.mutateUser(userID, func() error { return g.store.AssignRole(ctx, userID, role.ID) })
}

// RevokeRole unbinds roleName from userID.
func (g *Graph) RevokeRole(ctx context.Context, userID, roleName string) error {
	role, err := g.store.RoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return g.mutateUser(userID, func() error { return g.store.RevokeRole(ctx, userID, role.ID) })
}

// GrantPermission adds permissionName to roleName. Every cached user may hold
// the role, so the whole cache is dropped.
func (g *Graph) GrantPermission(ctx context.Context, roleName, permissionName string) error {
	role, perm, err := g.lookupEdge(ctx, roleName, permissionName)
	if err != nil {
		return err
	}
	return g.mutateAll(func() error { return g.store.GrantPermission(ctx, role.ID, perm.ID) })
}

// RevokePermission removes permissionName from roleName.
func (g *Graph) RevokePermission(ctx context.Context, roleName, permissionName string) error {
	role, perm, err := g.lookupEdge(ctx, roleName, permissionName)
	if err != nil {
		return err
	}
	return g.mutateAll(func() error { return g.store.RevokePermission(ctx, role.ID, perm.ID) })
}

func (g *Graph) lookupEdge(ctx context.Context, roleName, permissionName string) (Role, Permission, error) {
	role, err := g.store.RoleByName(ctx, roleName)
	if err != nil {
		return Role{}, Permission{}, err
	}
	perm, err := g.store.PermissionByName(ctx, permissionName)
	if err != nil {
		return Role{}, Permission{}, err
	}
	return role, perm, nil
}

// The cache is invalidated even when write fails: a failed commit may still
// have landed.
func (g *Graph) mutateUser(userID string, write func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := write()
	delete(g.cache, userID)
	g.gen++
	g.invalidations.Add(1)
	return err
}

func (g *Graph) mutateAll(write func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := write()
	g.cache = make(map[string]*Resolution)
	g.gen++
	g.invalidations.Add(1)
	return err
}

// Invalidate drops one user's cached resolution. Use it when edges change
// outside this Graph.
func (g *Graph) Invalidate(userID string) {
	_ = g.mutateUser(userID, func() error { return nil })
}

// InvalidateAll drops every cached resolution.
func (g *Graph) InvalidateAll() {
	_ = g.mutateAll(func() error { return nil })
}

// Stats returns cumulative cache counters.
func (g *Graph) Stats() Stats {
	return Stats{
		Hits:          g.hits.Load(),
		Misses:        g.misses.Load(),
		Invalidations: g.invalidations.Load(),
	}
}
