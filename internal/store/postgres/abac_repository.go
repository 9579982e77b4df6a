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

	"github.com/auth9/auth9/internal/abac"
)

// PolicyRepository implements abac.Repository
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetByTenant retrieves the tenant's policy set
func (r *PolicyRepository) GetByTenant(ctx context.Context, tenantID string) (*abac.PolicySet, error) {
	var set abac.PolicySet
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, mode, published_version_id, created_at, updated_at
		FROM abac_policy_sets WHERE tenant_id = $1
	`, tenantID).Scan(
		&set.ID, &set.TenantID, &set.Mode, &set.PublishedVersionID,
		&set.CreatedAt, &set.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, abac.ErrPolicySetNotFound
		}
		return nil, fmt.Errorf("failed to get policy set: %w", err)
	}
	return &set, nil
}

// Upsert creates or replaces the tenant's policy set
func (r *PolicyRepository) Upsert(ctx context.Context, set *abac.PolicySet) error {
	now := time.Now()
	if set.CreatedAt.IsZero() {
		set.CreatedAt = now
	}
	set.UpdatedAt = now
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO abac_policy_sets (id, tenant_id, mode, published_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			published_version_id = EXCLUDED.published_version_id,
			updated_at = EXCLUDED.updated_at
	`, set.ID, set.TenantID, set.Mode, set.PublishedVersionID, set.CreatedAt, set.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert policy set: %w", err)
	}
	return nil
}

// CreateVersion appends an immutable policy version
func (r *PolicyRepository) CreateVersion(ctx context.Context, version *abac.Version) error {
	version.CreatedAt = time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO abac_policy_versions (id, policy_set_id, version_no, policy_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, version.ID, version.PolicySetID, version.VersionNo, version.PolicyJSON, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert policy version: %w", err)
	}
	return nil
}

// GetVersion retrieves a policy version by ID
func (r *PolicyRepository) GetVersion(ctx context.Context, versionID string) (*abac.Version, error) {
	var v abac.Version
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, policy_set_id, version_no, policy_json, created_at
		FROM abac_policy_versions WHERE id = $1
	`, versionID).Scan(&v.ID, &v.PolicySetID, &v.VersionNo, &v.PolicyJSON, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, abac.ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get policy version: %w", err)
	}
	return &v, nil
}

// ListVersions returns the set's versions, newest first
func (r *PolicyRepository) ListVersions(ctx context.Context, policySetID string) ([]*abac.Version, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, policy_set_id, version_no, policy_json, created_at
		FROM abac_policy_versions
		WHERE policy_set_id = $1 ORDER BY version_no DESC
	`, policySetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy versions: %w", err)
	}
	defer rows.Close()

	var versions []*abac.Version
	for rows.Next() {
		var v abac.Version
		if err := rows.Scan(&v.ID, &v.PolicySetID, &v.VersionNo, &v.PolicyJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// LatestVersionNo returns the highest version number in the set, zero when
// the set has no versions.
func (r *PolicyRepository) LatestVersionNo(ctx context.Context, policySetID string) (int, error) {
	var latest int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_no), 0) FROM abac_policy_versions WHERE policy_set_id = $1
	`, policySetID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest policy version: %w", err)
	}
	return latest, nil
}
