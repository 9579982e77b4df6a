// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/auth9/auth9/internal/rbac"
)

// RoleRepository implements rbac.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, service_id, name, description, parent_role_id, created_at, updated_at`

func scanRole(row pgx.Row) (*rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(
		&role.ID, &role.ServiceID, &role.Name, &role.Description,
		&role.ParentRoleID, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	return &role, nil
}

// Create inserts a role row
func (r *RoleRepository) Create(ctx context.Context, role *rbac.Role) error {
	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO roles (id, service_id, name, description, parent_role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, role.ID, role.ServiceID, role.Name, role.Description, role.ParentRoleID, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*rbac.Role, error) {
	return scanRole(r.db.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// Update overwrites mutable role fields
func (r *RoleRepository) Update(ctx context.Context, role *rbac.Role) error {
	role.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE roles SET name = $2, description = $3, parent_role_id = $4, updated_at = $5
		WHERE id = $1
	`, role.ID, role.Name, role.Description, role.ParentRoleID, role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrRoleNotFound
	}
	return nil
}

// Delete removes a role; attachments and grants cascade, children are
// re-parented to NULL by the foreign key.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrRoleNotFound
	}
	return nil
}

// ListByService returns the service's roles
func (r *RoleRepository) ListByService(ctx context.Context, serviceID string) ([]*rbac.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+roleColumns+` FROM roles WHERE service_id = $1 ORDER BY name
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// AttachPermission links a permission to a role; already attached is not
// an error.
func (r *RoleRepository) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to attach permission: %w", err)
	}
	return nil
}

// DetachPermission unlinks a permission from a role
func (r *RoleRepository) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to detach permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrPermissionNotFound
	}
	return nil
}

// ListPermissions returns the permissions attached directly to the role
func (r *RoleRepository) ListPermissions(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT p.id, p.service_id, p.code, p.name, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.code
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// PermissionRepository implements rbac.PermissionRepository
type PermissionRepository struct {
	db *DB
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

const permissionColumns = `id, service_id, code, name, description, created_at`

func scanPermission(row pgx.Row) (*rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.ServiceID, &p.Code, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rbac.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("failed to scan permission: %w", err)
	}
	return &p, nil
}

// Create inserts a permission row
func (r *PermissionRepository) Create(ctx context.Context, perm *rbac.Permission) error {
	perm.CreatedAt = time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO permissions (id, service_id, code, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, perm.ID, perm.ServiceID, perm.Code, perm.Name, perm.Description, perm.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return rbac.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert permission: %w", err)
	}
	return nil
}

// GetByID retrieves a permission by ID
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*rbac.Permission, error) {
	return scanPermission(r.db.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

// GetByCode retrieves a permission by service-scoped code
func (r *PermissionRepository) GetByCode(ctx context.Context, serviceID, code string) (*rbac.Permission, error) {
	return scanPermission(r.db.pool.QueryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE service_id = $1 AND code = $2`,
		serviceID, code))
}

// Delete removes a permission row; role attachments cascade
func (r *PermissionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrPermissionNotFound
	}
	return nil
}

// ListByService returns the service's permissions
func (r *PermissionRepository) ListByService(ctx context.Context, serviceID string) ([]*rbac.Permission, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+permissionColumns+` FROM permissions WHERE service_id = $1 ORDER BY code
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func collectPermissions(rows pgx.Rows) ([]*rbac.Permission, error) {
	var perms []*rbac.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GrantRepository implements rbac.GrantRepository
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Create inserts a grant row
func (r *GrantRepository) Create(ctx context.Context, grant *rbac.Grant) error {
	grant.GrantedAt = time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO user_tenant_roles (id, tenant_user_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_user_id, role_id) DO NOTHING
	`, grant.ID, grant.TenantUserID, grant.RoleID, grant.GrantedBy, grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to insert role grant: %w", err)
	}
	return nil
}

// Delete removes a grant
func (r *GrantRepository) Delete(ctx context.Context, tenantUserID, roleID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM user_tenant_roles WHERE tenant_user_id = $1 AND role_id = $2
	`, tenantUserID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role grant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrGrantNotFound
	}
	return nil
}

// ListByTenantUser returns the grants held by one membership
func (r *GrantRepository) ListByTenantUser(ctx context.Context, tenantUserID string) ([]*rbac.Grant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_user_id, role_id, granted_by, granted_at
		FROM user_tenant_roles WHERE tenant_user_id = $1 ORDER BY granted_at
	`, tenantUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	defer rows.Close()

	var grants []*rbac.Grant
	for rows.Next() {
		var g rbac.Grant
		if err := rows.Scan(&g.ID, &g.TenantUserID, &g.RoleID, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// ResolveUserRoles projects the user's effective roles and permissions in
// one tenant with a single join. Direct permissions only; the resolver
// layers parent inheritance on top.
func (r *GrantRepository) ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*rbac.Resolution, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT ro.id, ro.name, ro.service_id, p.code
		FROM tenant_users tu
		JOIN user_tenant_roles utr ON utr.tenant_user_id = tu.id
		JOIN roles ro ON ro.id = utr.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = ro.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE tu.user_id = $1 AND tu.tenant_id = $2
		  AND ($3 = '' OR ro.service_id = $3)
	`, userID, tenantID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user roles: %w", err)
	}
	defer rows.Close()

	resolution := &rbac.Resolution{}
	seenRoles := make(map[string]bool)
	seenPerms := make(map[string]bool)
	for rows.Next() {
		var role rbac.RoleInfo
		var code *string
		if err := rows.Scan(&role.ID, &role.Name, &role.ServiceID, &code); err != nil {
			return nil, fmt.Errorf("failed to scan role resolution: %w", err)
		}
		if !seenRoles[role.ID] {
			seenRoles[role.ID] = true
			resolution.Roles = append(resolution.Roles, role)
		}
		if code != nil && !seenPerms[*code] {
			seenPerms[*code] = true
			resolution.Permissions = append(resolution.Permissions, *code)
		}
	}
	return resolution, rows.Err()
}
