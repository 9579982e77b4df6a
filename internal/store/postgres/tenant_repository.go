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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/auth9/auth9/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var settings []byte
	var policy []byte
	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.LogoURL, &t.Status,
		&settings, &policy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
		}
	}
	if len(policy) > 0 {
		if err := json.Unmarshal(policy, &t.PasswordPolicy); err != nil {
			return nil, fmt.Errorf("failed to decode password policy: %w", err)
		}
	}
	return &t, nil
}

// Create inserts a tenant row
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	var policy []byte
	if t.PasswordPolicy != nil {
		if policy, err = json.Marshal(t.PasswordPolicy); err != nil {
			return fmt.Errorf("failed to encode password policy: %w", err)
		}
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, logo_url, status, settings, password_policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Name, t.Slug, t.LogoURL, t.Status, settings, policy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return tenant.ErrSlugTaken
		}
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

const tenantColumns = `id, name, slug, logo_url, status, settings, password_policy, created_at, updated_at`

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return scanTenant(r.db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

// GetBySlug retrieves a tenant by slug
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return scanTenant(r.db.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

// Update overwrites mutable tenant fields
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	var policy []byte
	if t.PasswordPolicy != nil {
		if policy, err = json.Marshal(t.PasswordPolicy); err != nil {
			return fmt.Errorf("failed to encode password policy: %w", err)
		}
	}

	t.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants SET
			name = $2, logo_url = $3, status = $4,
			settings = $5, password_policy = $6, updated_at = $7
		WHERE id = $1
	`, t.ID, t.Name, t.LogoURL, t.Status, settings, policy, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// Delete removes the tenant; foreign keys cascade to memberships,
// services, invitations, webhooks, actions, connectors and policy sets.
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// List pages tenants by creation time
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		ORDER BY created_at LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// MemberRepository implements tenant.MemberRepository
type MemberRepository struct {
	db *DB
}

// NewMemberRepository creates a new membership repository
func NewMemberRepository(db *DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Add inserts a membership row
func (r *MemberRepository) Add(ctx context.Context, member *tenant.Member) error {
	member.CreatedAt = time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenant_users (id, tenant_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, member.ID, member.TenantID, member.UserID, member.Role, member.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return tenant.ErrMemberExists
		}
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}

// Get retrieves one membership
func (r *MemberRepository) Get(ctx context.Context, tenantID, userID string) (*tenant.Member, error) {
	var m tenant.Member
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, role, created_at
		FROM tenant_users WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// UpdateRole changes the membership role
func (r *MemberRepository) UpdateRole(ctx context.Context, tenantID, userID, role string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenant_users SET role = $3 WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrMemberNotFound
	}
	return nil
}

// Remove deletes a membership; role grants cascade
func (r *MemberRepository) Remove(ctx context.Context, tenantID, userID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM tenant_users WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrMemberNotFound
	}
	return nil
}

// ListByTenant pages a tenant's memberships
func (r *MemberRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*tenant.Member, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, user_id, role, created_at
		FROM tenant_users WHERE tenant_id = $1
		ORDER BY created_at LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	return collectMembers(rows)
}

// ListByUser returns every membership of one user
func (r *MemberRepository) ListByUser(ctx context.Context, userID string) ([]*tenant.Member, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, user_id, role, created_at
		FROM tenant_users WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user memberships: %w", err)
	}
	defer rows.Close()
	return collectMembers(rows)
}

// CountByRole counts memberships holding role in the tenant
func (r *MemberRepository) CountByRole(ctx context.Context, tenantID, role string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tenant_users WHERE tenant_id = $1 AND role = $2
	`, tenantID, role).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

func collectMembers(rows pgx.Rows) ([]*tenant.Member, error) {
	var members []*tenant.Member
	for rows.Next() {
		var m tenant.Member
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}
