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

package rbac

import (
	"context"
	"fmt"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
)

// Service provides role and permission management logic.
type Service struct {
	roles       RoleRepository
	permissions PermissionRepository
	grants      GrantRepository
	resolver    *Resolver
	auditLogger audit.Logger
}

// NewService creates a new rbac service.
func NewService(roles RoleRepository, permissions PermissionRepository, grants GrantRepository, resolver *Resolver, auditLogger audit.Logger) *Service {
	return &Service{
		roles:       roles,
		permissions: permissions,
		grants:      grants,
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// CreateRole creates a role under a service. A parent, when given, must
// belong to the same service and must not close a cycle.
func (s *Service) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	if role.Name == "" {
		return nil, fmt.Errorf("role name is required")
	}
	role.ID = id.NewUUIDv7()
	if role.ParentRoleID != nil {
		if err := s.validateParent(ctx, role.ID, role.ServiceID, *role.ParentRoleID); err != nil {
			return nil, err
		}
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole updates name, description and parent. Re-parenting is checked
// against the existing hierarchy before it is persisted.
func (s *Service) UpdateRole(ctx context.Context, role *Role) (*Role, error) {
	existing, err := s.roles.GetByID(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	if role.ParentRoleID != nil {
		if err := s.validateParent(ctx, existing.ID, existing.ServiceID, *role.ParentRoleID); err != nil {
			return nil, err
		}
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.ParentRoleID = role.ParentRoleID
	if err := s.roles.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// validateParent rejects self-parenting, cross-service parents, and any
// assignment whose ancestor chain would reach back to roleID. The walk is
// depth-limited so corrupt data cannot loop forever.
func (s *Service) validateParent(ctx context.Context, roleID, serviceID, parentID string) error {
	if parentID == roleID {
		return ErrCyclicInheritance
	}
	current := parentID
	for depth := 0; depth < maxInheritanceDepth; depth++ {
		parent, err := s.roles.GetByID(ctx, current)
		if err != nil {
			return err
		}
		if parent.ServiceID != serviceID {
			return ErrCrossServiceParent
		}
		if parent.ID == roleID {
			return ErrCyclicInheritance
		}
		if parent.ParentRoleID == nil {
			return nil
		}
		current = *parent.ParentRoleID
	}
	return ErrCyclicInheritance
}

// GetRole retrieves a role by ID.
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return s.roles.GetByID(ctx, roleID)
}

// ListRoles lists the roles of a service.
func (s *Service) ListRoles(ctx context.Context, serviceID string) ([]*Role, error) {
	return s.roles.ListByService(ctx, serviceID)
}

// DeleteRole removes a role and its permission attachments and grants.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	return s.roles.Delete(ctx, roleID)
}

// CreatePermission registers a permission code under a service.
func (s *Service) CreatePermission(ctx context.Context, perm *Permission) (*Permission, error) {
	if perm.Code == "" {
		return nil, fmt.Errorf("permission code is required")
	}
	perm.ID = id.NewUUIDv7()
	if err := s.permissions.Create(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// GetPermission retrieves a permission by ID.
func (s *Service) GetPermission(ctx context.Context, permissionID string) (*Permission, error) {
	return s.permissions.GetByID(ctx, permissionID)
}

// ListPermissions lists the permissions of a service.
func (s *Service) ListPermissions(ctx context.Context, serviceID string) ([]*Permission, error) {
	return s.permissions.ListByService(ctx, serviceID)
}

// ListRolePermissions lists the permissions attached directly to a role,
// inherited ones excluded.
func (s *Service) ListRolePermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	if _, err := s.roles.GetByID(ctx, roleID); err != nil {
		return nil, err
	}
	return s.roles.ListPermissions(ctx, roleID)
}

// DeletePermission removes a permission and its role attachments.
func (s *Service) DeletePermission(ctx context.Context, permissionID string) error {
	return s.permissions.Delete(ctx, permissionID)
}

// AttachPermission links a permission to a role.
func (s *Service) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	if _, err := s.roles.GetByID(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.permissions.GetByID(ctx, permissionID); err != nil {
		return err
	}
	return s.roles.AttachPermission(ctx, roleID, permissionID)
}

// DetachPermission unlinks a permission from a role.
func (s *Service) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return s.roles.DetachPermission(ctx, roleID, permissionID)
}

// AssignRole grants a role to a tenant member and invalidates the member's
// cached projection.
func (s *Service) AssignRole(ctx context.Context, tenantUserID, roleID, userID, tenantID string, grantedBy *string) (*Grant, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	grant := &Grant{
		ID:           id.NewUUIDv7(),
		TenantUserID: tenantUserID,
		RoleID:       role.ID,
		GrantedBy:    grantedBy,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, err
	}

	s.resolver.Invalidate(ctx, userID, tenantID, role.ServiceID)

	actorID := ""
	if grantedBy != nil {
		actorID = *grantedBy
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleAssigned,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: "user_tenant_role",
		Metadata: map[string]any{"user_id": userID, "role_id": role.ID, "role_name": role.Name},
	})

	return grant, nil
}

// RevokeRole removes a role grant from a tenant member.
func (s *Service) RevokeRole(ctx context.Context, tenantUserID, roleID, userID, tenantID string) error {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.grants.Delete(ctx, tenantUserID, roleID); err != nil {
		return err
	}

	s.resolver.Invalidate(ctx, userID, tenantID, role.ServiceID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleRevoked,
		TenantID: tenantID,
		Resource: "user_tenant_role",
		Metadata: map[string]any{"user_id": userID, "role_id": role.ID},
	})

	return nil
}

// ListGrants lists the role grants of a tenant member.
func (s *Service) ListGrants(ctx context.Context, tenantUserID string) ([]*Grant, error) {
	return s.grants.ListByTenantUser(ctx, tenantUserID)
}
