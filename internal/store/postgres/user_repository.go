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

	"github.com/auth9/auth9/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, external_idp_id, email, display_name, avatar_url,
	locked_until, scim_external_id, scim_provisioned_by, created_at, updated_at`

func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	err := row.Scan(
		&user.ID, &user.ExternalIdPID, &user.Email, &user.DisplayName,
		&user.AvatarURL, &user.LockedUntil, &user.ScimExternalID,
		&user.ScimProvisionedBy, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// Create inserts a user row
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (
			id, external_idp_id, email, display_name, avatar_url,
			locked_until, scim_external_id, scim_provisioned_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		user.ID, user.ExternalIdPID, user.Email, user.DisplayName,
		user.AvatarURL, user.LockedUntil, user.ScimExternalID,
		user.ScimProvisionedBy, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail retrieves a user by email. Matching is case-insensitive, the
// same rule the SCIM filter scan applies.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// GetByExternalIdPID retrieves a user by the upstream IdP subject
func (r *UserRepository) GetByExternalIdPID(ctx context.Context, externalID string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_idp_id = $1`, externalID))
}

// GetByScimExternalID retrieves a user by connector-scoped SCIM external
// id, case-insensitively to match the filter scan.
func (r *UserRepository) GetByScimExternalID(ctx context.Context, connectorID, externalID string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE scim_provisioned_by = $1 AND LOWER(scim_external_id) = LOWER($2)
	`, connectorID, externalID))
}

// Update overwrites mutable user fields
func (r *UserRepository) Update(ctx context.Context, user *identity.User) error {
	user.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			display_name = $3,
			avatar_url = $4,
			locked_until = $5,
			scim_external_id = $6,
			scim_provisioned_by = $7,
			updated_at = $8
		WHERE id = $1
	`,
		user.ID, user.Email, user.DisplayName, user.AvatarURL,
		user.LockedUntil, user.ScimExternalID, user.ScimProvisionedBy,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// UpdateLockout updates user lockout status
func (r *UserRepository) UpdateLockout(ctx context.Context, userID string, lockedUntil *time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET locked_until = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update user lockout status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Delete removes a user row
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Search lists users matching the query across email and display name,
// with the total count for pagination. An empty query matches everything.
func (r *UserRepository) Search(ctx context.Context, query string, limit, offset int) ([]*identity.User, int, error) {
	pattern := "%" + query + "%"

	var total int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE ($1 = '%%' OR email ILIKE $1 OR display_name ILIKE $1)
	`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE ($1 = '%%' OR email ILIKE $1 OR display_name ILIKE $1)
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}
