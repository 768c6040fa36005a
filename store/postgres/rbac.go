package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/rentauth/permission"
)

// CreateRole implements permission.Store.
func (s *Store) CreateRole(ctx context.Context, r permission.Role) (permission.Role, error) {
	if r.Name == "" {
		return permission.Role{}, permission.ErrInvalid
	}
	r.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`insert into account__auth__roles(id, name, description) values ($1, $2, $3)`,
		r.ID, r.Name, r.Description)
	if isUnique(err) {
		return permission.Role{}, permission.ErrConflict
	}
	if err != nil {
		return permission.Role{}, err
	}
	return r, nil
}

// CreatePermission implements permission.Store.
func (s *Store) CreatePermission(ctx context.Context, p permission.Permission) (permission.Permission, error) {
	if p.Name == "" {
		return permission.Permission{}, permission.ErrInvalid
	}
	p.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`insert into account__auth__permissions(id, name, description) values ($1, $2, $3)`,
		p.ID, p.Name, p.Description)
	if isUnique(err) {
		return permission.Permission{}, permission.ErrConflict
	}
	if err != nil {
		return permission.Permission{}, err
	}
	return p, nil
}

// RoleByName implements permission.Store.
func (s *Store) RoleByName(ctx context.Context, name string) (permission.Role, error) {
	var r permission.Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, description from account__auth__roles where name = $1`, name).
		Scan(&r.ID, &r.Name, &r.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Role{}, permission.ErrNotFound
	}
	return r, err
}

// PermissionByName implements permission.Store.
func (s *Store) PermissionByName(ctx context.Context, name string) (permission.Permission, error) {
	var p permission.Permission
	err := s.db.QueryRowContext(ctx,
		`select id, name, description from account__auth__permissions where name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Permission{}, permission.ErrNotFound
	}
	return p, err
}

// AssignRole implements permission.Store. A missing user or role surfaces as
// a foreign key violation and is reported as permission.ErrNotFound.
func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	return edgeErr(s.db.ExecContext(ctx, `
		insert into account__auth__user_roles(user_id, role_id, created_at)
		values ($1, $2, now())
		on conflict (user_id, role_id) do nothing`, userID, roleID))
}

// RevokeRole implements permission.Store.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from account__auth__user_roles where user_id = $1 and role_id = $2`, userID, roleID)
	return err
}

// GrantPermission implements permission.Store.
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	return edgeErr(s.db.ExecContext(ctx, `
		insert into account__auth__role_permissions(role_id, permission_id, created_at)
		values ($1, $2, now())
		on conflict (role_id, permission_id) do nothing`, roleID, permissionID))
}

// RevokePermission implements permission.Store.
func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from account__auth__role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
	return err
}

// RolesOf implements permission.Store.
func (s *Store) RolesOf(ctx context.Context, userID string) ([]permission.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description
		from account__auth__roles r
		join account__auth__user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []permission.Role{}
	for rows.Next() {
		var r permission.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PermissionsOf implements permission.Store.
func (s *Store) PermissionsOf(ctx context.Context, userID string) ([]permission.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.id, p.name, p.description
		from account__auth__permissions p
		join account__auth__role_permissions rp on rp.permission_id = p.id
		join account__auth__user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
		order by p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []permission.Permission{}
	for rows.Next() {
		var p permission.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func edgeErr(_ sql.Result, err error) error {
	if isForeignKey(err) {
		return permission.ErrNotFound
	}
	return err
}
