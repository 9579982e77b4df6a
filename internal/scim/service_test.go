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

package scim

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/identity"
)

// MockUserRepository is a simple in-memory implementation of
// identity.UserRepository with call counters for routing assertions.
type MockUserRepository struct {
	users        map[string]*identity.User
	byEmailCalls int
	searchCalls  int
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*identity.User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.byEmailCalls++
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *MockUserRepository) GetByExternalIdPID(ctx context.Context, externalID string) (*identity.User, error) {
	for _, u := range m.users {
		if u.ExternalIdPID == externalID {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *MockUserRepository) GetByScimExternalID(ctx context.Context, connectorID, externalID string) (*identity.User, error) {
	for _, u := range m.users {
		if u.ScimExternalID != nil && strings.EqualFold(*u.ScimExternalID, externalID) &&
			u.ScimProvisionedBy != nil && *u.ScimProvisionedBy == connectorID {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *MockUserRepository) Update(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) UpdateLockout(ctx context.Context, userID string, lockedUntil *time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.LockedUntil = lockedUntil
	return nil
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func (m *MockUserRepository) Search(ctx context.Context, query string, limit, offset int) ([]*identity.User, int, error) {
	m.searchCalls++
	var all []*identity.User
	for _, u := range m.users {
		all = append(all, u)
	}
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// MockGroupRepository is a simple in-memory implementation of GroupRepository
type MockGroupRepository struct {
	groups map[string]*GroupMapping
}

func NewMockGroupRepository() *MockGroupRepository {
	return &MockGroupRepository{groups: make(map[string]*GroupMapping)}
}

func (m *MockGroupRepository) Create(ctx context.Context, mapping *GroupMapping) error {
	m.groups[mapping.ID] = mapping
	return nil
}

func (m *MockGroupRepository) GetByID(ctx context.Context, id string) (*GroupMapping, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

func (m *MockGroupRepository) Update(ctx context.Context, mapping *GroupMapping) error {
	m.groups[mapping.ID] = mapping
	return nil
}

func (m *MockGroupRepository) Delete(ctx context.Context, id string) error {
	if _, ok := m.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *MockGroupRepository) ListByConnector(ctx context.Context, tenantID, connectorID string) ([]*GroupMapping, error) {
	var out []*GroupMapping
	for _, g := range m.groups {
		if g.TenantID == tenantID && g.ConnectorID == connectorID {
			out = append(out, g)
		}
	}
	return out, nil
}

// MockLogRepository is a simple in-memory implementation of LogRepository
type MockLogRepository struct {
	entries []*LogEntry
}

func (m *MockLogRepository) Create(ctx context.Context, entry *LogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockLogRepository) ListByConnector(ctx context.Context, tenantID, connectorID string, limit, offset int) ([]*LogEntry, error) {
	return m.entries, nil
}

func (m *MockLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []*LogEntry
	var removed int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

// fakeIdP records admin calls and can be made to fail.
type fakeIdP struct {
	created  []string
	disabled []string
	fail     bool
}

func (f *fakeIdP) AdminCreateUser(ctx context.Context, email, displayName string, enabled bool) (string, error) {
	if f.fail {
		return "", fmt.Errorf("idp unavailable")
	}
	id := "idp-" + email
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeIdP) AdminDisableUser(ctx context.Context, idpUserID string) error {
	f.disabled = append(f.disabled, idpUserID)
	return nil
}

type fixture struct {
	svc    *Service
	users  *MockUserRepository
	groups *MockGroupRepository
	log    *MockLogRepository
	idp    *fakeIdP
	rc     RequestContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  NewMockUserRepository(),
		groups: NewMockGroupRepository(),
		log:    &MockLogRepository{},
		idp:    &fakeIdP{},
		rc: RequestContext{
			TenantID: "t1", ConnectorID: "conn-1", TokenID: "tok-1",
			BaseURL: "https://auth9.example/api/v1/scim/v2",
		},
	}
	f.svc = NewService(f.users, f.groups, f.log, f.idp, audit.NewSlogLogger())
	return f
}

// TestPurpose: Validates provisioning create: the user is created in the
// IdP first, linked to the connector, and logged as success; a SCIM-owned
// duplicate conflicts; an unlinked duplicate is adopted in place.
// Scope: Unit Test
// Expected: IdP-first create, conflict on provisioned duplicate, linking
// on unprovisioned duplicate.
// Test Case ID: SCM-05
func TestScim_CreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateUser(ctx, f.rc, &UserResource{
		UserName: "ada@example.com", DisplayName: "Ada", ExternalID: "ext-1", Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", created.UserName)
	assert.True(t, created.Active)
	assert.Equal(t, "ext-1", created.ExternalID)
	require.Len(t, f.idp.created, 1)

	stored, err := f.users.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.ScimProvisionedBy)
	assert.Equal(t, "conn-1", *stored.ScimProvisionedBy)
	assert.Equal(t, "idp-ada@example.com", stored.ExternalIdPID)

	// Same email again while SCIM-owned: conflict.
	_, err = f.svc.CreateUser(ctx, f.rc, &UserResource{UserName: "ada@example.com", Active: true})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Pre-existing non-SCIM user: linked, not duplicated, no IdP call.
	f.users.users["u-local"] = &identity.User{ID: "u-local", Email: "grace@example.com"}
	linked, err := f.svc.CreateUser(ctx, f.rc, &UserResource{
		UserName: "grace@example.com", ExternalID: "ext-2", Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "u-local", linked.ID)
	assert.Len(t, f.idp.created, 1)
	require.NotNil(t, f.users.users["u-local"].ScimExternalID)
	assert.Equal(t, "ext-2", *f.users.users["u-local"].ScimExternalID)

	assert.GreaterOrEqual(t, len(f.log.entries), 3)
}

// TestPurpose: Validates that an IdP failure surfaces as an upstream error,
// creates no local row, and is logged as an error entry.
// Scope: Unit Test
// Expected: KindUpstream; zero users; log status=error.
// Test Case ID: SCM-06
func TestScim_CreateUser_IdPFailure(t *testing.T) {
	f := newFixture(t)
	f.idp.fail = true

	_, err := f.svc.CreateUser(context.Background(), f.rc, &UserResource{
		UserName: "ada@example.com", Active: true,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Empty(t, f.users.users)

	require.NotEmpty(t, f.log.entries)
	last := f.log.entries[len(f.log.entries)-1]
	assert.Equal(t, LogError, last.Status)
	assert.NotEmpty(t, last.ErrorDetail)
}

// TestPurpose: Validates list routing and shape: a userName equality
// filter uses the indexed lookup, returns totalResults=1 with the mapped
// resource, and a non-matching filter returns an empty page.
// Scope: Unit Test
// Expected: Indexed path (no scan), correct totals for hit and miss.
// Test Case ID: SCM-07
func TestScim_ListByUserName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.users["u1"] = &identity.User{ID: "u1", Email: "a@x"}
	f.users.users["u2"] = &identity.User{ID: "u2", Email: "b@x"}

	resp, err := f.svc.ListUsers(ctx, f.rc, `userName eq "a@x"`, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalResults)
	require.Len(t, resp.Resources, 1)
	assert.Equal(t, "a@x", resp.Resources[0].(*UserResource).UserName)
	assert.Zero(t, f.users.searchCalls, "equality filter must not scan")

	resp, err = f.svc.ListUsers(ctx, f.rc, `userName eq "nobody@x"`, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalResults)
	assert.Empty(t, resp.Resources)

	// A compound filter takes the scan path.
	resp, err = f.svc.ListUsers(ctx, f.rc, `userName ew "@x" and active eq true`, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalResults)
	assert.Positive(t, f.users.searchCalls)
}

// TestPurpose: Validates PATCH semantics: replace of displayName and
// active, remove limited to displayName and photos, unknown ops rejected.
// Scope: Unit Test
// Expected: Field updates applied in order; bad request for the rest.
// Test Case ID: SCM-08
func TestScim_PatchUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.users["u1"] = &identity.User{ID: "u1", Email: "a@x", DisplayName: "Before", AvatarURL: "http://img"}

	res, err := f.svc.PatchUser(ctx, f.rc, "u1", &PatchRequest{Operations: []PatchOperation{
		{Op: "replace", Path: "displayName", Value: "After"},
		{Op: "replace", Path: "active", Value: false},
		{Op: "remove", Path: "photos"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "After", res.DisplayName)
	assert.False(t, res.Active)
	assert.Empty(t, f.users.users["u1"].AvatarURL)
	require.NotNil(t, f.users.users["u1"].LockedUntil)
	assert.Equal(t, identity.ScimDeletedLockout, *f.users.users["u1"].LockedUntil)

	// Pathless replace applies an attribute object.
	res, err = f.svc.PatchUser(ctx, f.rc, "u1", &PatchRequest{Operations: []PatchOperation{
		{Op: "replace", Value: map[string]any{"displayName": "Bulk", "active": true}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Bulk", res.DisplayName)
	assert.True(t, res.Active)

	_, err = f.svc.PatchUser(ctx, f.rc, "u1", &PatchRequest{Operations: []PatchOperation{
		{Op: "remove", Path: "userName"},
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = f.svc.PatchUser(ctx, f.rc, "u1", &PatchRequest{Operations: []PatchOperation{
		{Op: "move", Path: "displayName"},
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

// TestPurpose: Validates SCIM delete as soft-delete: the local row stays
// with a far-future lockout and the upstream account is disabled.
// Scope: Unit Test
// Expected: locked_until=deprovision sentinel; IdP disable invoked.
// Test Case ID: SCM-09
func TestScim_DeleteUser_SoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.users["u1"] = &identity.User{ID: "u1", Email: "a@x", ExternalIdPID: "idp-1"}

	require.NoError(t, f.svc.DeleteUser(ctx, f.rc, "u1"))

	stored := f.users.users["u1"]
	require.NotNil(t, stored, "row must survive deprovisioning")
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, identity.ScimDeletedLockout, *stored.LockedUntil)
	assert.True(t, stored.IsDeactivated(time.Now()))
	assert.Equal(t, []string{"idp-1"}, f.idp.disabled)
}

// TestPurpose: Validates group mappings: create stores a placeholder role
// id, PATCH records operations without touching membership.
// Scope: Unit Test
// Expected: role_id=unmapped on create; display name updatable via PATCH.
// Test Case ID: SCM-10
func TestScim_Groups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateGroup(ctx, f.rc, &GroupResource{
		DisplayName: "Engineering", ExternalID: "grp-9",
	})
	require.NoError(t, err)
	mapping := f.groups.groups[created.ID]
	require.NotNil(t, mapping)
	assert.Equal(t, PlaceholderRoleID, mapping.RoleID)
	assert.Equal(t, "grp-9", mapping.ScimGroupID)

	_, err = f.svc.PatchGroup(ctx, f.rc, created.ID, &PatchRequest{Operations: []PatchOperation{
		{Op: "replace", Path: "displayName", Value: "Platform"},
		{Op: "add", Path: "members", Value: []any{map[string]any{"value": "u1"}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Platform", f.groups.groups[created.ID].DisplayName)
}

// TestPurpose: Validates bulk dispatch and failOnErrors: operations run in
// order with per-operation statuses, and processing stops after the Nth
// error with a final marker entry.
// Scope: Unit Test
// Expected: 201 for creates, 4xx rows for failures, early stop honored.
// Test Case ID: SCM-11
func TestScim_Bulk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Bulk(ctx, f.rc, &BulkRequest{
		FailOnErrors: 1,
		Operations: []BulkOperation{
			{Method: "POST", Path: "/Users", BulkID: "one",
				Data: map[string]any{"userName": "a@x", "active": true}},
			{Method: "POST", Path: "/Users", BulkID: "two",
				Data: map[string]any{"active": true}}, // missing userName
			{Method: "POST", Path: "/Users", BulkID: "three",
				Data: map[string]any{"userName": "never@x", "active": true}},
		},
	})
	require.NoError(t, err)

	// one ok, two failed, then the stop marker; three never ran.
	require.Len(t, resp.Operations, 3)
	assert.Equal(t, "201", resp.Operations[0].Status)
	assert.Equal(t, "one", resp.Operations[0].BulkID)
	assert.Equal(t, "400", resp.Operations[1].Status)
	assert.NotEmpty(t, resp.Operations[1].Detail)
	assert.Contains(t, resp.Operations[2].Detail, "stopped")

	_, err = f.users.GetByEmail(ctx, "never@x")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

// TestPurpose: Validates that the indexed userName lookup and the generic
// filter scan apply the same casing rule: a mixed-case equality filter
// finds the user on both routes.
// Scope: Unit Test
// Expected: totalResults=1 from the indexed path and from the scan path
// for the same mixed-case filter.
// Test Case ID: SCM-12
func TestScim_ListByUserName_CaseInsensitiveOnBothPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.users["u1"] = &identity.User{ID: "u1", Email: "ada@example.com"}

	// Indexed route.
	resp, err := f.svc.ListUsers(ctx, f.rc, `userName eq "ADA@example.com"`, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalResults)
	assert.Zero(t, f.users.searchCalls, "equality filter must not scan")

	// Compound filter forces the scan route over the same data.
	resp, err = f.svc.ListUsers(ctx, f.rc, `userName eq "ADA@example.com" and userName pr`, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalResults)
	assert.Positive(t, f.users.searchCalls)
}
