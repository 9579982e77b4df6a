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

	"github.com/auth9/auth9/internal/invite"
)

// InvitationRepository implements invite.Repository
type InvitationRepository struct {
	db *DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

const invitationColumns = `id, tenant_id, email, role_ids, invited_by, token_hash,
	status, expires_at, accepted_at, created_at`

func scanInvitation(row pgx.Row) (*invite.Invitation, error) {
	var inv invite.Invitation
	var invitedBy *string
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.Email, &inv.RoleIDs, &invitedBy,
		&inv.TokenHash, &inv.Status, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invite.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	if invitedBy != nil {
		inv.InvitedBy = *invitedBy
	}
	return &inv, nil
}

// Create inserts an invitation row
func (r *InvitationRepository) Create(ctx context.Context, inv *invite.Invitation) error {
	inv.CreatedAt = time.Now()
	var invitedBy *string
	if inv.InvitedBy != "" {
		invitedBy = &inv.InvitedBy
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO invitations (id, tenant_id, email, role_ids, invited_by, token_hash, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		inv.ID, inv.TenantID, inv.Email, inv.RoleIDs, invitedBy,
		inv.TokenHash, inv.Status, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

// GetByID retrieves an invitation by ID
func (r *InvitationRepository) GetByID(ctx context.Context, id string) (*invite.Invitation, error) {
	return scanInvitation(r.db.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
}

// GetPendingByEmail retrieves the most recent pending invitation for an
// email in a tenant.
func (r *InvitationRepository) GetPendingByEmail(ctx context.Context, tenantID, email string) (*invite.Invitation, error) {
	return scanInvitation(r.db.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE tenant_id = $1 AND email = $2 AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1
	`, tenantID, email))
}

// ListByTenant pages a tenant's invitations, newest first
func (r *InvitationRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*invite.Invitation, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*invite.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// UpdateStatus transitions the invitation and records the acceptance time
// when given.
func (r *InvitationRepository) UpdateStatus(ctx context.Context, id, status string, acceptedAt *time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE invitations SET status = $2, accepted_at = $3 WHERE id = $1
	`, id, status, acceptedAt)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return invite.ErrInvitationNotFound
	}
	return nil
}

// ExpireStale flips pending invitations past their deadline to expired.
func (r *InvitationRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE invitations SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return result.RowsAffected(), nil
}

// Delete removes an invitation row
func (r *InvitationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return invite.ErrInvitationNotFound
	}
	return nil
}
