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

package invite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/cache"
	"github.com/auth9/auth9/internal/mailer"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/secrets"
	"github.com/auth9/auth9/internal/tenant"
)

// MockRepository is a simple in-memory implementation of Repository
type MockRepository struct {
	invitations map[string]*Invitation
}

func NewMockRepository() *MockRepository {
	return &MockRepository{invitations: make(map[string]*Invitation)}
}

func (m *MockRepository) Create(ctx context.Context, inv *Invitation) error {
	m.invitations[inv.ID] = inv
	return nil
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*Invitation, error) {
	inv, ok := m.invitations[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	return inv, nil
}

func (m *MockRepository) GetPendingByEmail(ctx context.Context, tenantID, email string) (*Invitation, error) {
	for _, inv := range m.invitations {
		if inv.TenantID == tenantID && inv.Email == email && inv.Status == StatusPending {
			return inv, nil
		}
	}
	return nil, ErrInvitationNotFound
}

func (m *MockRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*Invitation, error) {
	var out []*Invitation
	for _, inv := range m.invitations {
		if inv.TenantID == tenantID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id, status string, acceptedAt *time.Time) error {
	inv, ok := m.invitations[id]
	if !ok {
		return ErrInvitationNotFound
	}
	if inv.Status == StatusAccepted {
		return nil
	}
	inv.Status = status
	inv.AcceptedAt = acceptedAt
	return nil
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	delete(m.invitations, id)
	return nil
}

func (m *MockRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, inv := range m.invitations {
		if inv.Status == StatusPending && inv.ExpiresAt.Before(now) {
			inv.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

// MockTenantRepo backs tenant.Service for membership bookkeeping.
type MockTenantRepo struct {
	tenants map[string]*tenant.Tenant
}

func (m *MockTenantRepo) Create(ctx context.Context, t *tenant.Tenant) error {
	m.tenants[t.ID] = t
	return nil
}
func (m *MockTenantRepo) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return t, nil
}
func (m *MockTenantRepo) GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return nil, tenant.ErrTenantNotFound
}
func (m *MockTenantRepo) Update(ctx context.Context, t *tenant.Tenant) error { return nil }
func (m *MockTenantRepo) Delete(ctx context.Context, id string) error        { return nil }
func (m *MockTenantRepo) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	return nil, nil
}

// MockMemberRepo is an in-memory tenant.MemberRepository.
type MockMemberRepo struct {
	members map[string]*tenant.Member // tenantID:userID
}

func (m *MockMemberRepo) Add(ctx context.Context, member *tenant.Member) error {
	key := member.TenantID + ":" + member.UserID
	if _, ok := m.members[key]; ok {
		return tenant.ErrMemberExists
	}
	m.members[key] = member
	return nil
}
func (m *MockMemberRepo) Get(ctx context.Context, tenantID, userID string) (*tenant.Member, error) {
	member, ok := m.members[tenantID+":"+userID]
	if !ok {
		return nil, tenant.ErrMemberNotFound
	}
	return member, nil
}
func (m *MockMemberRepo) UpdateRole(ctx context.Context, tenantID, userID, role string) error {
	return nil
}
func (m *MockMemberRepo) Remove(ctx context.Context, tenantID, userID string) error { return nil }
func (m *MockMemberRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*tenant.Member, error) {
	return nil, nil
}
func (m *MockMemberRepo) ListByUser(ctx context.Context, userID string) ([]*tenant.Member, error) {
	return nil, nil
}
func (m *MockMemberRepo) CountByRole(ctx context.Context, tenantID, role string) (int, error) {
	return 0, nil
}

// grantRecorder records role grants made during acceptance.
type grantRecorder struct {
	grants []*rbac.Grant
}

func (g *grantRecorder) Create(ctx context.Context, grant *rbac.Grant) error {
	g.grants = append(g.grants, grant)
	return nil
}
func (g *grantRecorder) Delete(ctx context.Context, tenantUserID, roleID string) error { return nil }
func (g *grantRecorder) ListByTenantUser(ctx context.Context, id string) ([]*rbac.Grant, error) {
	return nil, nil
}
func (g *grantRecorder) ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*rbac.Resolution, error) {
	return &rbac.Resolution{Roles: []rbac.RoleInfo{}, Permissions: []string{}}, nil
}

type staticRoleRepo struct{}

func (staticRoleRepo) Create(ctx context.Context, role *rbac.Role) error { return nil }
func (staticRoleRepo) GetByID(ctx context.Context, id string) (*rbac.Role, error) {
	return &rbac.Role{ID: id, ServiceID: "svc-1", Name: "invited-role"}, nil
}
func (staticRoleRepo) Update(ctx context.Context, role *rbac.Role) error { return nil }
func (staticRoleRepo) Delete(ctx context.Context, id string) error       { return nil }
func (staticRoleRepo) ListByService(ctx context.Context, serviceID string) ([]*rbac.Role, error) {
	return nil, nil
}
func (staticRoleRepo) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (staticRoleRepo) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (staticRoleRepo) ListPermissions(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	return nil, nil
}

func newInviteFixture() (*Service, *MockRepository, *grantRecorder) {
	repo := NewMockRepository()
	auditLogger := audit.NewSlogLogger()
	tenants := tenant.NewService(
		&MockTenantRepo{tenants: make(map[string]*tenant.Tenant)},
		&MockMemberRepo{members: make(map[string]*tenant.Member)},
		auditLogger,
	)
	grants := &grantRecorder{}
	resolver := rbac.NewResolver(grants, staticRoleRepo{}, cache.NewMemory(), time.Second)
	roles := rbac.NewService(staticRoleRepo{}, nil, grants, resolver, auditLogger)
	svc := NewService(repo, tenants, roles, secrets.DefaultArgon2Hasher(),
		mailer.NewLogMailer(), auditLogger, "https://portal.auth9.test", 7*24*time.Hour)
	return svc, repo, grants
}

// TestPurpose: Validates invitation token handling: the stored hash differs
// from the clear token, the token verifies only against its own invitation,
// and a duplicate pending invitation is rejected.
// Scope: Unit Test
// Security: Credential-at-rest hygiene for invite tokens
// Expected: hash != token; cross-invitation redemption fails; ErrPendingExists
// on duplicate.
// Test Case ID: INV-01
func TestInvite_CreateAndTokenHash(t *testing.T) {
	svc, repo, _ := newInviteFixture()
	ctx := context.Background()

	inv, clearToken, err := svc.Create(ctx, "tenant-1", "bob@corp.example", "user-admin", []string{"role-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, clearToken)
	assert.NotEqual(t, clearToken, inv.TokenHash)
	assert.Equal(t, StatusPending, inv.Status)

	_, _, err = svc.Create(ctx, "tenant-1", "bob@corp.example", "user-admin", nil)
	assert.ErrorIs(t, err, ErrPendingExists)

	// A second invitation's token does not redeem the first.
	other, otherToken, err := svc.Create(ctx, "tenant-1", "carol@corp.example", "user-admin", nil)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, inv.ID, otherToken, "user-bob")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_ = other
	_ = repo
}

// TestPurpose: Validates acceptance: membership and the invited roles are
// granted, and repeated acceptance is a no-op after the first.
// Scope: Unit Test
// Expected: One grant per invited role; second accept returns the accepted
// invitation without error or duplicate grants.
// Test Case ID: INV-02
func TestInvite_AcceptIdempotent(t *testing.T) {
	svc, _, grants := newInviteFixture()
	ctx := context.Background()

	inv, clearToken, err := svc.Create(ctx, "tenant-1", "bob@corp.example", "user-admin", []string{"role-1", "role-2"})
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, inv.ID, clearToken, "user-bob")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)
	assert.Len(t, grants.grants, 2)

	again, err := svc.Accept(ctx, inv.ID, clearToken, "user-bob")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, again.Status)
	assert.Len(t, grants.grants, 2, "second accept must not re-grant")
}

// TestPurpose: Validates the distinct failure modes of acceptance: expired
// invitations versus revoked ones, and wrong tokens.
// Scope: Unit Test
// Expected: ErrInvitationExpired for a lapsed invite (which is marked
// expired), ErrInvalidStatus for a revoked one, ErrInvalidToken for a bad
// token.
// Test Case ID: INV-03
func TestInvite_AcceptFailureModes(t *testing.T) {
	svc, repo, _ := newInviteFixture()
	ctx := context.Background()

	inv, clearToken, err := svc.Create(ctx, "tenant-1", "bob@corp.example", "user-admin", nil)
	require.NoError(t, err)

	_, err = svc.Accept(ctx, inv.ID, "wrong-token", "user-bob")
	assert.ErrorIs(t, err, ErrInvalidToken)

	repo.invitations[inv.ID].ExpiresAt = time.Now().Add(-time.Hour)
	_, err = svc.Accept(ctx, inv.ID, clearToken, "user-bob")
	assert.ErrorIs(t, err, ErrInvitationExpired)
	assert.Equal(t, StatusExpired, repo.invitations[inv.ID].Status)

	revoked, revokedToken, err := svc.Create(ctx, "tenant-1", "dave@corp.example", "user-admin", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, revoked.ID, "user-admin"))
	_, err = svc.Accept(ctx, revoked.ID, revokedToken, "user-dave")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	// Revoking a non-pending invitation is rejected too.
	assert.ErrorIs(t, svc.Revoke(ctx, revoked.ID, "user-admin"), ErrInvalidStatus)
}
