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

package tenant

import (
	"errors"
	"time"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrSlugTaken          = errors.New("tenant slug already in use")
	ErrMemberNotFound     = errors.New("tenant membership not found")
	ErrMemberExists       = errors.New("user is already a member of this tenant")
	ErrInvalidSlug        = errors.New("slug must be lowercase letters, digits and hyphens")
	ErrInvalidMemberRole  = errors.New("invalid tenant role")
	ErrLastOwnerRemoval   = errors.New("cannot remove the last owner of a tenant")
	ErrTenantNotConfirmed = errors.New("tenant deletion requires explicit confirmation")
)

// Status constants
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Tenant administration roles. These govern who may manage the tenant
// itself and are distinct from RBAC roles scoped to relying services.
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
	MemberRoleViewer = "viewer"
)

// Settings holds per-tenant authentication settings.
type Settings struct {
	RequireMFA         bool     `json:"require_mfa"`
	SessionTimeoutSecs int      `json:"session_timeout_s"`
	AllowedAuthMethods []string `json:"allowed_auth_methods,omitempty"`
}

// PasswordPolicy is forwarded to the upstream IdP realm configuration.
type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireDigit     bool `json:"require_digit"`
	RequireSymbol    bool `json:"require_symbol"`
}

// Tenant represents an isolated customer account
type Tenant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	LogoURL        string          `json:"logo_url,omitempty"`
	Status         string          `json:"status"`
	Settings       Settings        `json:"settings"`
	PasswordPolicy *PasswordPolicy `json:"password_policy,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Member represents a user's membership (and administration role) in a tenant.
type Member struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdministrative reports whether the membership role may manage the tenant.
func (m *Member) IsAdministrative() bool {
	return m.Role == MemberRoleOwner || m.Role == MemberRoleAdmin
}

// ValidMemberRole reports whether role is a recognised tenant role.
func ValidMemberRole(role string) bool {
	switch role {
	case MemberRoleOwner, MemberRoleAdmin, MemberRoleMember, MemberRoleViewer:
		return true
	}
	return false
}
