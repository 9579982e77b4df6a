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

// Package invite implements the tenant invitation workflow. The clear token
// goes to the recipient only; the database keeps an Argon2id hash.
package invite

import (
	"context"
	"errors"
	"time"
)

// Invitation statuses
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusExpired  = "expired"
	StatusRevoked  = "revoked"
)

// Domain errors. Expired and invalid-status acceptance are distinct so the
// recipient sees a distinct message for each.
var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvalidStatus      = errors.New("invitation is not pending")
	ErrInvalidToken       = errors.New("invitation token is invalid")
	ErrPendingExists      = errors.New("a pending invitation already exists for this email")
)

// Invitation invites an email address into a tenant with a set of roles to
// grant on acceptance.
type Invitation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	RoleIDs    []string   `json:"role_ids"`
	InvitedBy  string     `json:"invited_by"`
	TokenHash  string     `json:"-"`
	Status     string     `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the invitation's deadline has passed.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Repository defines the interface for invitation persistence
type Repository interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, id string) (*Invitation, error)
	GetPendingByEmail(ctx context.Context, tenantID, email string) (*Invitation, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*Invitation, error)
	UpdateStatus(ctx context.Context, id, status string, acceptedAt *time.Time) error
	Delete(ctx context.Context, id string) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
