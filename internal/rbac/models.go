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

// Package rbac implements service-scoped roles with single-parent
// inheritance, their permissions, and the per-tenant grant model.
package rbac

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrDuplicateCode      = errors.New("permission code already exists for service")
	ErrCyclicInheritance  = errors.New("role parent assignment would create a cycle")
	ErrGrantNotFound      = errors.New("role grant not found")
	ErrCrossServiceParent = errors.New("parent role belongs to a different service")
)

// maxInheritanceDepth bounds the parent walk. Role hierarchies deeper than
// this are rejected the same way a cycle is.
const maxInheritanceDepth = 16

// Permission is a service-scoped capability string such as "orders:read".
// Code is unique within its service.
type Permission struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"service_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role groups permissions for a service. ParentRoleID enables single-parent
// inheritance; a role holds its own permissions plus every ancestor's.
type Role struct {
	ID           string    `json:"id"`
	ServiceID    string    `json:"service_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ParentRoleID *string   `json:"parent_role_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Grant records that a tenant member holds a role. TenantUserID references
// the (user, tenant) membership row, so a grant cannot outlive membership.
type Grant struct {
	ID           string    `json:"id"`
	TenantUserID string    `json:"tenant_user_id"`
	RoleID       string    `json:"role_id"`
	GrantedBy    *string   `json:"granted_by,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// RoleInfo is the projection of a held role returned by the resolver.
type RoleInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ServiceID string `json:"service_id"`
}

// Resolution is the effective roles-and-permissions of a user in a tenant,
// optionally restricted to one service.
type Resolution struct {
	Roles       []RoleInfo `json:"roles"`
	Permissions []string   `json:"permissions"`
}

// HasPermission reports whether the resolution carries the permission code.
func (r *Resolution) HasPermission(code string) bool {
	for _, p := range r.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// RoleRepository defines the interface for role persistence
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	ListByService(ctx context.Context, serviceID string) ([]*Role, error)
	AttachPermission(ctx context.Context, roleID, permissionID string) error
	DetachPermission(ctx context.Context, roleID, permissionID string) error
	ListPermissions(ctx context.Context, roleID string) ([]*Permission, error)
}

// PermissionRepository defines the interface for permission persistence
type PermissionRepository interface {
	Create(ctx context.Context, perm *Permission) error
	GetByID(ctx context.Context, id string) (*Permission, error)
	GetByCode(ctx context.Context, serviceID, code string) (*Permission, error)
	Delete(ctx context.Context, id string) error
	ListByService(ctx context.Context, serviceID string) ([]*Permission, error)
}

// GrantRepository defines the interface for user role grant persistence
type GrantRepository interface {
	Create(ctx context.Context, grant *Grant) error
	Delete(ctx context.Context, tenantUserID, roleID string) error
	ListByTenantUser(ctx context.Context, tenantUserID string) ([]*Grant, error)
	// ResolveUserRoles joins memberships, grants, roles, role_permissions
	// and permissions for one user in one tenant. serviceID restricts the
	// projection when non-empty.
	ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*Resolution, error)
}
