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

	"github.com/auth9/auth9/internal/scim"
)

// ScimGroupRepository implements scim.GroupRepository
type ScimGroupRepository struct {
	db *DB
}

// NewScimGroupRepository creates a new group mapping repository
func NewScimGroupRepository(db *DB) *ScimGroupRepository {
	return &ScimGroupRepository{db: db}
}

const groupMappingColumns = `id, tenant_id, connector_id, scim_group_id, display_name, role_id, created_at, updated_at`

func scanGroupMapping(row pgx.Row) (*scim.GroupMapping, error) {
	var m scim.GroupMapping
	err := row.Scan(
		&m.ID, &m.TenantID, &m.ConnectorID, &m.ScimGroupID,
		&m.DisplayName, &m.RoleID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scim.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to scan group mapping: %w", err)
	}
	return &m, nil
}

// Create inserts a group mapping row
func (r *ScimGroupRepository) Create(ctx context.Context, mapping *scim.GroupMapping) error {
	now := time.Now()
	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO scim_group_mappings (id, tenant_id, connector_id, scim_group_id, display_name, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		mapping.ID, mapping.TenantID, mapping.ConnectorID, mapping.ScimGroupID,
		mapping.DisplayName, mapping.RoleID, mapping.CreatedAt, mapping.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group mapping: %w", err)
	}
	return nil
}

// GetByID retrieves a group mapping by ID
func (r *ScimGroupRepository) GetByID(ctx context.Context, id string) (*scim.GroupMapping, error) {
	return scanGroupMapping(r.db.pool.QueryRow(ctx,
		`SELECT `+groupMappingColumns+` FROM scim_group_mappings WHERE id = $1`, id))
}

// Update overwrites mutable mapping fields
func (r *ScimGroupRepository) Update(ctx context.Context, mapping *scim.GroupMapping) error {
	mapping.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE scim_group_mappings SET display_name = $2, role_id = $3, updated_at = $4
		WHERE id = $1
	`, mapping.ID, mapping.DisplayName, mapping.RoleID, mapping.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update group mapping: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scim.ErrGroupNotFound
	}
	return nil
}

// Delete removes a group mapping row
func (r *ScimGroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM scim_group_mappings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group mapping: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scim.ErrGroupNotFound
	}
	return nil
}

// ListByConnector returns a connector's group mappings
func (r *ScimGroupRepository) ListByConnector(ctx context.Context, tenantID, connectorID string) ([]*scim.GroupMapping, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+groupMappingColumns+` FROM scim_group_mappings
		WHERE tenant_id = $1 AND connector_id = $2 ORDER BY created_at
	`, tenantID, connectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*scim.GroupMapping
	for rows.Next() {
		m, err := scanGroupMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// ScimLogRepository implements scim.LogRepository
type ScimLogRepository struct {
	db *DB
}

// NewScimLogRepository creates a new provisioning log repository
func NewScimLogRepository(db *DB) *ScimLogRepository {
	return &ScimLogRepository{db: db}
}

// Create appends one provisioning log entry
func (r *ScimLogRepository) Create(ctx context.Context, entry *scim.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO scim_provisioning_log (id, tenant_id, connector_id, operation, resource_type, scim_resource_id, auth9_resource_id, status, error_detail, response_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID, nullable(entry.TenantID), entry.ConnectorID, entry.Operation,
		entry.ResourceType, entry.ScimResourceID, entry.LocalResourceID,
		entry.Status, entry.ErrorDetail, entry.ResponseStatus, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provisioning log entry: %w", err)
	}
	return nil
}

// ListByConnector pages a connector's provisioning log, newest first
func (r *ScimLogRepository) ListByConnector(ctx context.Context, tenantID, connectorID string, limit, offset int) ([]*scim.LogEntry, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, connector_id, operation, resource_type, scim_resource_id, auth9_resource_id, status, error_detail, response_status, created_at
		FROM scim_provisioning_log
		WHERE tenant_id = $1 AND connector_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, tenantID, connectorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisioning log: %w", err)
	}
	defer rows.Close()

	var entries []*scim.LogEntry
	for rows.Next() {
		var e scim.LogEntry
		var tenantID *string
		err := rows.Scan(&e.ID, &tenantID, &e.ConnectorID, &e.Operation,
			&e.ResourceType, &e.ScimResourceID, &e.LocalResourceID,
			&e.Status, &e.ErrorDetail, &e.ResponseStatus, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provisioning log entry: %w", err)
		}
		e.TenantID = deref(tenantID)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan purges log entries older than the cutoff
func (r *ScimLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx,
		`DELETE FROM scim_provisioning_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge provisioning log: %w", err)
	}
	return result.RowsAffected(), nil
}
