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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/cache"
)

// MockRoleRepository is a simple in-memory implementation of RoleRepository
type MockRoleRepository struct {
	roles    map[string]*Role
	attached map[string][]string // roleID -> permissionIDs
	perms    *MockPermissionRepository
}

func NewMockRoleRepository(perms *MockPermissionRepository) *MockRoleRepository {
	return &MockRoleRepository{
		roles:    make(map[string]*Role),
		attached: make(map[string][]string),
		perms:    perms,
	}
}

func (m *MockRoleRepository) Create(ctx context.Context, role *Role) error {
	m.roles[role.ID] = role
	return nil
}

func (m *MockRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return r, nil
}

func (m *MockRoleRepository) Update(ctx context.Context, role *Role) error {
	m.roles[role.ID] = role
	return nil
}

func (m *MockRoleRepository) Delete(ctx context.Context, id string) error {
	delete(m.roles, id)
	return nil
}

func (m *MockRoleRepository) ListByService(ctx context.Context, serviceID string) ([]*Role, error) {
	var out []*Role
	for _, r := range m.roles {
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRoleRepository) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	m.attached[roleID] = append(m.attached[roleID], permissionID)
	return nil
}

func (m *MockRoleRepository) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	var kept []string
	for _, id := range m.attached[roleID] {
		if id != permissionID {
			kept = append(kept, id)
		}
	}
	m.attached[roleID] = kept
	return nil
}

func (m *MockRoleRepository) ListPermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	var out []*Permission
	for _, id := range m.attached[roleID] {
		if p, ok := m.perms.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// MockPermissionRepository is a simple in-memory implementation of PermissionRepository
type MockPermissionRepository struct {
	perms map[string]*Permission
}

func NewMockPermissionRepository() *MockPermissionRepository {
	return &MockPermissionRepository{perms: make(map[string]*Permission)}
}

func (m *MockPermissionRepository) Create(ctx context.Context, perm *Permission) error {
	for _, p := range m.perms {
		if p.ServiceID == perm.ServiceID && p.Code == perm.Code {
			return ErrDuplicateCode
		}
	}
	m.perms[perm.ID] = perm
	return nil
}

func (m *MockPermissionRepository) GetByID(ctx context.Context, id string) (*Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return nil, ErrPermissionNotFound
	}
	return p, nil
}

func (m *MockPermissionRepository) GetByCode(ctx context.Context, serviceID, code string) (*Permission, error) {
	for _, p := range m.perms {
		if p.ServiceID == serviceID && p.Code == code {
			return p, nil
		}
	}
	return nil, ErrPermissionNotFound
}

func (m *MockPermissionRepository) Delete(ctx context.Context, id string) error {
	delete(m.perms, id)
	return nil
}

func (m *MockPermissionRepository) ListByService(ctx context.Context, serviceID string) ([]*Permission, error) {
	var out []*Permission
	for _, p := range m.perms {
		if p.ServiceID == serviceID {
			out = append(out, p)
		}
	}
	return out, nil
}

// MockGrantRepository is a simple in-memory implementation of GrantRepository
type MockGrantRepository struct {
	grants []*Grant
	roles  *MockRoleRepository
	// membership: userID:tenantID -> tenantUserID
	memberships map[string]string
}

func NewMockGrantRepository(roles *MockRoleRepository) *MockGrantRepository {
	return &MockGrantRepository{roles: roles, memberships: make(map[string]string)}
}

func (m *MockGrantRepository) Create(ctx context.Context, grant *Grant) error {
	m.grants = append(m.grants, grant)
	return nil
}

func (m *MockGrantRepository) Delete(ctx context.Context, tenantUserID, roleID string) error {
	var kept []*Grant
	for _, g := range m.grants {
		if g.TenantUserID != tenantUserID || g.RoleID != roleID {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	return nil
}

func (m *MockGrantRepository) ListByTenantUser(ctx context.Context, tenantUserID string) ([]*Grant, error) {
	var out []*Grant
	for _, g := range m.grants {
		if g.TenantUserID == tenantUserID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *MockGrantRepository) ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*Resolution, error) {
	tenantUserID, ok := m.memberships[userID+":"+tenantID]
	if !ok {
		return &Resolution{Roles: []RoleInfo{}, Permissions: []string{}}, nil
	}
	res := &Resolution{Roles: []RoleInfo{}, Permissions: []string{}}
	seen := make(map[string]struct{})
	for _, g := range m.grants {
		if g.TenantUserID != tenantUserID {
			continue
		}
		role, ok := m.roles.roles[g.RoleID]
		if !ok {
			continue
		}
		if serviceID != "" && role.ServiceID != serviceID {
			continue
		}
		res.Roles = append(res.Roles, RoleInfo{ID: role.ID, Name: role.Name, ServiceID: role.ServiceID})
		perms, _ := m.roles.ListPermissions(ctx, role.ID)
		for _, p := range perms {
			if _, dup := seen[p.Code]; !dup {
				seen[p.Code] = struct{}{}
				res.Permissions = append(res.Permissions, p.Code)
			}
		}
	}
	return res, nil
}

func newTestService() (*Service, *MockRoleRepository, *MockPermissionRepository, *MockGrantRepository, *Resolver) {
	perms := NewMockPermissionRepository()
	roles := NewMockRoleRepository(perms)
	grants := NewMockGrantRepository(roles)
	resolver := NewResolver(grants, roles, cache.NewMemory(), 30*time.Second)
	svc := NewService(roles, perms, grants, resolver, audit.NewSlogLogger())
	return svc, roles, perms, grants, resolver
}

// TestPurpose: Validates that role parent assignment rejects cycles of any
// length, including self-parenting, while legitimate chains are accepted.
// Scope: Unit Test
// Security: Authorization model integrity (no infinite inheritance loops)
// Expected: ErrCyclicInheritance for cyclic assignments, success otherwise.
// Test Case ID: RBC-01
func TestRBAC_Service_CycleRejection(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	base, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "base"})
	require.NoError(t, err)

	mid, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "mid", ParentRoleID: &base.ID})
	require.NoError(t, err)

	top, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "top", ParentRoleID: &mid.ID})
	require.NoError(t, err)

	// Self-parent is rejected.
	_, err = svc.UpdateRole(ctx, &Role{ID: base.ID, Name: "base", ParentRoleID: &base.ID})
	assert.ErrorIs(t, err, ErrCyclicInheritance)

	// base -> top would close the three-role loop.
	_, err = svc.UpdateRole(ctx, &Role{ID: base.ID, Name: "base", ParentRoleID: &top.ID})
	assert.ErrorIs(t, err, ErrCyclicInheritance)

	// Re-parenting top directly onto base stays acyclic.
	_, err = svc.UpdateRole(ctx, &Role{ID: top.ID, Name: "top", ParentRoleID: &base.ID})
	assert.NoError(t, err)
}

// TestPurpose: Validates that a role cannot inherit from a role belonging to
// a different service.
// Scope: Unit Test
// Security: Service-level permission isolation
// Expected: ErrCrossServiceParent for a foreign parent.
// Test Case ID: RBC-02
func TestRBAC_Service_CrossServiceParent(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	foreign, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-other", Name: "foreign"})
	require.NoError(t, err)

	_, err = svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "local", ParentRoleID: &foreign.ID})
	assert.ErrorIs(t, err, ErrCrossServiceParent)
}

// TestPurpose: Validates that the resolver expands inherited permissions
// through the parent chain and deduplicates codes.
// Scope: Unit Test
// Security: Effective-permission computation
// Expected: A grant of the child role yields the parent's permissions too,
// each code exactly once.
// Test Case ID: RBC-03
func TestRBAC_Resolver_Inheritance(t *testing.T) {
	svc, roles, _, grants, resolver := newTestService()
	ctx := context.Background()

	readPerm, err := svc.CreatePermission(ctx, &Permission{ServiceID: "svc-1", Code: "orders:read", Name: "Read orders"})
	require.NoError(t, err)
	writePerm, err := svc.CreatePermission(ctx, &Permission{ServiceID: "svc-1", Code: "orders:write", Name: "Write orders"})
	require.NoError(t, err)

	viewer, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "viewer"})
	require.NoError(t, err)
	editor, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "editor", ParentRoleID: &viewer.ID})
	require.NoError(t, err)

	require.NoError(t, svc.AttachPermission(ctx, viewer.ID, readPerm.ID))
	require.NoError(t, svc.AttachPermission(ctx, editor.ID, writePerm.ID))
	// Duplicate attachment of the same code on the child should not double it.
	require.NoError(t, roles.AttachPermission(ctx, editor.ID, readPerm.ID))

	grants.memberships["user-1:tenant-1"] = "tu-1"
	_, err = svc.AssignRole(ctx, "tu-1", editor.ID, "user-1", "tenant-1", nil)
	require.NoError(t, err)

	res, err := resolver.Resolve(ctx, "user-1", "tenant-1", "svc-1")
	require.NoError(t, err)

	assert.Len(t, res.Roles, 1)
	assert.Equal(t, "editor", res.Roles[0].Name)
	assert.Equal(t, []string{"orders:read", "orders:write"}, res.Permissions)
	assert.True(t, res.HasPermission("orders:read"))
	assert.False(t, res.HasPermission("orders:delete"))
}

// TestPurpose: Validates read-through caching and best-effort invalidation of
// the roles projection on grant changes.
// Scope: Unit Test
// Security: Authorization freshness after revocation
// Expected: Cached projection served until RevokeRole invalidates it; the
// next resolve reflects the revocation.
// Test Case ID: RBC-04
func TestRBAC_Resolver_CacheInvalidation(t *testing.T) {
	svc, _, _, grants, resolver := newTestService()
	ctx := context.Background()

	perm, err := svc.CreatePermission(ctx, &Permission{ServiceID: "svc-1", Code: "reports:read", Name: "Read reports"})
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, &Role{ServiceID: "svc-1", Name: "analyst"})
	require.NoError(t, err)
	require.NoError(t, svc.AttachPermission(ctx, role.ID, perm.ID))

	grants.memberships["user-1:tenant-1"] = "tu-1"
	_, err = svc.AssignRole(ctx, "tu-1", role.ID, "user-1", "tenant-1", nil)
	require.NoError(t, err)

	res, err := resolver.Resolve(ctx, "user-1", "tenant-1", "svc-1")
	require.NoError(t, err)
	require.True(t, res.HasPermission("reports:read"))

	// Mutate the store directly: a cached read still sees the old projection.
	require.NoError(t, grants.Delete(ctx, "tu-1", role.ID))
	res, err = resolver.Resolve(ctx, "user-1", "tenant-1", "svc-1")
	require.NoError(t, err)
	assert.True(t, res.HasPermission("reports:read"), "stale cached read expected")

	// Re-grant then revoke through the service, which invalidates.
	_, err = svc.AssignRole(ctx, "tu-1", role.ID, "user-1", "tenant-1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeRole(ctx, "tu-1", role.ID, "user-1", "tenant-1"))

	res, err = resolver.Resolve(ctx, "user-1", "tenant-1", "svc-1")
	require.NoError(t, err)
	assert.False(t, res.HasPermission("reports:read"))
	assert.Empty(t, res.Roles)
}
