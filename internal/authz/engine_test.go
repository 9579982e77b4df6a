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

package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/abac"
	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/cache"
	"github.com/auth9/auth9/internal/config"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/tenant"
	"github.com/auth9/auth9/internal/token"
)

// stubMembers maps "tenantID:userID" to a membership role.
type stubMembers struct {
	roles map[string]string
}

func (s *stubMembers) GetMember(ctx context.Context, tenantID, userID string) (*tenant.Member, error) {
	role, ok := s.roles[tenantID+":"+userID]
	if !ok {
		return nil, tenant.ErrMemberNotFound
	}
	return &tenant.Member{TenantID: tenantID, UserID: userID, Role: role}, nil
}

// stubPolicies returns a fixed ABAC decision and records invocations.
type stubPolicies struct {
	decision abac.Decision
	calls    int
	lastCtx  abac.Context
}

func (s *stubPolicies) Evaluate(ctx context.Context, tenantID, action, resourceType string, attrs abac.Context) abac.Decision {
	s.calls++
	s.lastCtx = attrs
	return s.decision
}

// stubGrants serves a fixed resolution for every user.
type stubGrants struct {
	resolution rbac.Resolution
}

func (s *stubGrants) Create(ctx context.Context, grant *rbac.Grant) error { return nil }
func (s *stubGrants) Delete(ctx context.Context, tenantUserID, roleID string) error {
	return nil
}
func (s *stubGrants) ListByTenantUser(ctx context.Context, tenantUserID string) ([]*rbac.Grant, error) {
	return nil, nil
}
func (s *stubGrants) ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*rbac.Resolution, error) {
	res := s.resolution
	return &res, nil
}

// emptyRoles is a RoleRepository with no roles; the resolver only walks it
// for inheritance, which these fixtures do not use.
type emptyRoles struct{}

func (emptyRoles) Create(ctx context.Context, role *rbac.Role) error       { return nil }
func (emptyRoles) GetByID(ctx context.Context, id string) (*rbac.Role, error) {
	return nil, rbac.ErrRoleNotFound
}
func (emptyRoles) Update(ctx context.Context, role *rbac.Role) error { return nil }
func (emptyRoles) Delete(ctx context.Context, id string) error       { return nil }
func (emptyRoles) ListByService(ctx context.Context, serviceID string) ([]*rbac.Role, error) {
	return nil, nil
}
func (emptyRoles) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (emptyRoles) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (emptyRoles) ListPermissions(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	return nil, nil
}

// recordingAudit captures audit events for assertions.
type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

type fixture struct {
	engine   *Engine
	members  *stubMembers
	policies *stubPolicies
	grants   *stubGrants
	audits   *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		members:  &stubMembers{roles: map[string]string{}},
		policies: &stubPolicies{decision: abac.Inconclusive},
		grants:   &stubGrants{},
		audits:   &recordingAudit{},
	}
	security := &config.SecurityConfig{PlatformAdminEmails: []string{"root@auth9.dev"}}
	resolver := rbac.NewResolver(f.grants, emptyRoles{}, cache.NewMemory(), time.Second)
	f.engine = NewEngine(security, f.members, resolver, f.policies, f.audits)
	return f
}

// TestPurpose: Validates the cross-tenant gate: a tenant-access token for
// tenant A targeting tenant B is refused with the action-specific reason
// and an audit row carrying action=access_denied.
// Scope: Unit Test
// Security: Tenant isolation
// Expected: 403 "Cannot create invitations for another tenant" plus audit.
// Test Case ID: AZN-01
func TestAuthz_CrossTenantForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := Principal{
		UserID: "u1", Email: "u@a.example", TokenKind: token.KindTenantAccess,
		TenantID: "tenant-a", IP: "203.0.113.9",
	}
	err := f.engine.Authorize(ctx, p, ActionInvitationCreate, Resource{
		Type: "invitation", TenantID: "tenant-b",
	})

	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "Cannot create invitations for another tenant", apperr.Message(err))

	require.Len(t, f.audits.events, 1)
	event := f.audits.events[0]
	assert.Equal(t, audit.TypeAccessDenied, event.Type)
	assert.Equal(t, "access_denied", event.Metadata[audit.AttrAction])
	assert.Equal(t, "tenant-b", event.TenantID)
	assert.Equal(t, "u1", event.ActorID)
}

// TestPurpose: Validates the token-type gate: service-client tokens are
// rejected from invitation, role and membership management even with every
// permission, and identity tokens pass only for platform admins.
// Scope: Unit Test
// Security: Token kind segregation
// Expected: Service tokens forbidden; non-admin identity forbidden; admin
// identity allowed.
// Test Case ID: AZN-02
func TestAuthz_TokenTypeGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := Resource{Type: "invitation", TenantID: "tenant-a"}

	service := Principal{
		ClientID: "svc-1", TokenKind: KindService,
		Permissions: []string{"invitation:write", "rbac:write"},
	}
	for _, action := range []string{ActionInvitationCreate, ActionRoleAssign, ActionMemberAdd} {
		err := f.engine.Authorize(ctx, service, action, res)
		require.Error(t, err, action)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	}

	outsider := Principal{UserID: "u2", Email: "someone@else.example", TokenKind: token.KindIdentity}
	err := f.engine.Authorize(ctx, outsider, ActionInvitationCreate, res)
	require.Error(t, err)

	operator := Principal{UserID: "u3", Email: "root@auth9.dev", TokenKind: token.KindIdentity}
	err = f.engine.Authorize(ctx, operator, ActionInvitationCreate, res)
	assert.NoError(t, err)
}

// TestPurpose: Validates RBAC layering: tenant owners and admins pass
// administrative actions, plain members do not, and a member holding a
// matching permission passes permission-gated actions.
// Scope: Unit Test
// Expected: owner/admin allowed; member denied without, allowed with, the
// required permission.
// Test Case ID: AZN-03
func TestAuthz_RBACLayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := Resource{Type: "invitation", TenantID: "tenant-a"}

	f.members.roles["tenant-a:owner-1"] = tenant.MemberRoleOwner
	f.members.roles["tenant-a:admin-1"] = tenant.MemberRoleAdmin
	f.members.roles["tenant-a:member-1"] = tenant.MemberRoleMember

	mk := func(userID string, perms ...string) Principal {
		return Principal{
			UserID: userID, Email: userID + "@a.example",
			TokenKind: token.KindTenantAccess, TenantID: "tenant-a",
			Permissions: perms,
		}
	}

	assert.NoError(t, f.engine.Authorize(ctx, mk("owner-1"), ActionInvitationCreate, res))
	assert.NoError(t, f.engine.Authorize(ctx, mk("admin-1"), ActionInvitationCreate, res))

	err := f.engine.Authorize(ctx, mk("member-1"), ActionInvitationCreate, res)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	assert.NoError(t, f.engine.Authorize(ctx, mk("member-1", "invitation:write"), ActionInvitationCreate, res))

	// A fresh grant not yet baked into the token is honored through the
	// live projection.
	f.grants.resolution = rbac.Resolution{Permissions: []string{"invitation:write"}}
	assert.NoError(t, f.engine.Authorize(ctx, mk("member-1"), ActionInvitationCreate, res))
}

// TestPurpose: Validates the ABAC layer: an enforced deny overrides an
// RBAC-allowed request, an inconclusive evaluation leaves it allowed, and
// platform admins bypass policy evaluation.
// Scope: Unit Test
// Expected: Denied decision yields 403; Inconclusive passes; no evaluation
// for platform admins.
// Test Case ID: AZN-04
func TestAuthz_ABACLayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := Resource{Type: "invitation", TenantID: "tenant-a"}
	f.members.roles["tenant-a:owner-1"] = tenant.MemberRoleOwner

	owner := Principal{
		UserID: "owner-1", Email: "owner@a.example",
		TokenKind: token.KindTenantAccess, TenantID: "tenant-a",
	}

	assert.NoError(t, f.engine.Authorize(ctx, owner, ActionInvitationCreate, res))
	assert.Equal(t, 1, f.policies.calls)
	request, ok := f.policies.lastCtx["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ActionInvitationCreate, request["action"])

	f.policies.decision = abac.Denied
	err := f.engine.Authorize(ctx, owner, ActionInvitationCreate, res)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, "Denied by tenant policy", apperr.Message(err))

	before := f.policies.calls
	operator := Principal{UserID: "u3", Email: "root@auth9.dev", TokenKind: token.KindIdentity}
	assert.NoError(t, f.engine.Authorize(ctx, operator, ActionInvitationCreate, res))
	assert.Equal(t, before, f.policies.calls, "platform admins skip policy evaluation")
}

// TestPurpose: Validates that unknown actions deny rather than allow.
// Scope: Unit Test
// Expected: Forbidden for an unregistered action name.
// Test Case ID: AZN-05
func TestAuthz_UnknownActionDenies(t *testing.T) {
	f := newFixture(t)
	operator := Principal{UserID: "u3", Email: "root@auth9.dev", TokenKind: token.KindIdentity}

	err := f.engine.Authorize(context.Background(), operator, "no:such:action", Resource{TenantID: "tenant-a"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
