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

package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrUserDeactivated   = errors.New("user is deactivated")
)

// ScimDeletedLockout marks a SCIM soft-deleted user. A locked_until this
// far in the future is treated as "deprovisioned", not "temporarily locked".
var ScimDeletedLockout = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// User represents an identity materialised from the upstream IdP.
// Credentials (passwords, MFA) live in the IdP; auth9 stores the linkage
// and profile only.
type User struct {
	ID                string     `json:"id"`
	ExternalIdPID     string     `json:"external_idp_id"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"display_name,omitempty"`
	AvatarURL         string     `json:"avatar_url,omitempty"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	ScimExternalID    *string    `json:"scim_external_id,omitempty"`
	ScimProvisionedBy *string    `json:"scim_provisioned_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsDeactivated reports whether the user is locked out at time now,
// including SCIM deprovisioning.
func (u *User) IsDeactivated(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// IsScimProvisioned reports whether this user is under SCIM control.
func (u *User) IsScimProvisioned() bool {
	return u.ScimProvisionedBy != nil && *u.ScimProvisionedBy != ""
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByExternalIdPID(ctx context.Context, externalID string) (*User, error)
	GetByScimExternalID(ctx context.Context, connectorID, externalID string) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdateLockout(ctx context.Context, userID string, lockedUntil *time.Time) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit, offset int) ([]*User, int, error)
}
