package permission

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports a role, permission or user that does not exist.
	ErrNotFound = errors.New("permission: not found")
	// ErrConflict reports a duplicate role or permission name.
	ErrConflict = errors.New("permission: already exists")
	// ErrInvalid reports an empty or otherwise unusable name.
	ErrInvalid = errors.New("permission: invalid name")
)

// Role is a named bundle of permissions, e.g. "host" or "admin".
type Role struct {
	ID          string
	Name        string
	Description string
}

// Permission is an atomic capability such as "booking:cancel". Names are
// compared as exact strings.
type Permission struct {
	ID          string
	Name        string
	Description string
}

// Store persists roles, permissions and the two edge sets. Implementations
// must reject edges to rows that do not exist with ErrNotFound. Assigning an
// existing edge or revoking a missing one is not an error.
type Store interface {
	CreateRole(ctx context.Context, r Role) (Role, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	PermissionByName(ctx context.Context, name string) (Permission, error)

	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error

	RolesOf(ctx context.Context, userID string) ([]Role, error)
	// PermissionsOf returns the distinct union over every role held.
	PermissionsOf(ctx context.Context, userID string) ([]Permission, error)
}
