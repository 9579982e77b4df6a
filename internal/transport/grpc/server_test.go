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

package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/cache"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/relying"
	"github.com/auth9/auth9/internal/token"
)

type memUserRepo struct {
	users map[string]*identity.User
}

func (m *memUserRepo) Create(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *memUserRepo) GetByExternalIdPID(ctx context.Context, externalID string) (*identity.User, error) {
	return nil, identity.ErrUserNotFound
}

func (m *memUserRepo) GetByScimExternalID(ctx context.Context, connectorID, externalID string) (*identity.User, error) {
	return nil, identity.ErrUserNotFound
}

func (m *memUserRepo) Update(ctx context.Context, user *identity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) UpdateLockout(ctx context.Context, userID string, lockedUntil *time.Time) error {
	return nil
}

func (m *memUserRepo) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func (m *memUserRepo) Search(ctx context.Context, query string, limit, offset int) ([]*identity.User, int, error) {
	return nil, 0, nil
}

type memClientRepo struct {
	clients map[string]*relying.Client
}

func (m *memClientRepo) Create(ctx context.Context, client *relying.Client) error {
	m.clients[client.ClientID] = client
	return nil
}

func (m *memClientRepo) GetByClientID(ctx context.Context, clientID string) (*relying.Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return nil, relying.ErrClientNotFound
	}
	return c, nil
}

func (m *memClientRepo) GetByID(ctx context.Context, id string) (*relying.Client, error) {
	for _, c := range m.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, relying.ErrClientNotFound
}

func (m *memClientRepo) UpdateSecret(ctx context.Context, id, secretHash string) error { return nil }
func (m *memClientRepo) Delete(ctx context.Context, id string) error                   { return nil }
func (m *memClientRepo) ListByService(ctx context.Context, serviceID string) ([]*relying.Client, error) {
	return nil, nil
}

type fixedGrantRepo struct {
	res *rbac.Resolution
}

func (f *fixedGrantRepo) Create(ctx context.Context, grant *rbac.Grant) error          { return nil }
func (f *fixedGrantRepo) Delete(ctx context.Context, tenantUserID, roleID string) error { return nil }
func (f *fixedGrantRepo) ListByTenantUser(ctx context.Context, tenantUserID string) ([]*rbac.Grant, error) {
	return nil, nil
}
func (f *fixedGrantRepo) ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*rbac.Resolution, error) {
	return f.res, nil
}

type emptyRoleRepo struct{}

func (emptyRoleRepo) Create(ctx context.Context, role *rbac.Role) error { return nil }
func (emptyRoleRepo) GetByID(ctx context.Context, id string) (*rbac.Role, error) {
	return &rbac.Role{ID: id}, nil
}
func (emptyRoleRepo) Update(ctx context.Context, role *rbac.Role) error { return nil }
func (emptyRoleRepo) Delete(ctx context.Context, id string) error       { return nil }
func (emptyRoleRepo) ListByService(ctx context.Context, serviceID string) ([]*rbac.Role, error) {
	return nil, nil
}
func (emptyRoleRepo) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (emptyRoleRepo) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (emptyRoleRepo) ListPermissions(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *token.Service) {
	t.Helper()
	users := &memUserRepo{users: map[string]*identity.User{
		"user-1": {ID: "user-1", Email: "u@example.com", DisplayName: "U"},
	}}
	clients := &memClientRepo{clients: map[string]*relying.Client{
		"billing-svc": {ID: "cl-1", ServiceID: "svc-1", ClientID: "billing-svc"},
	}}
	grants := &fixedGrantRepo{res: &rbac.Resolution{
		Roles:       []rbac.RoleInfo{{ID: "r1", Name: "accountant", ServiceID: "svc-1"}},
		Permissions: []string{"invoices:read"},
	}}
	resolver := rbac.NewResolver(grants, emptyRoleRepo{}, cache.NewMemory(), time.Second)

	signer := token.NewHS256Signer("https://auth9.test", []byte("0123456789abcdef0123456789abcdef"))
	tokens := token.NewService(signer, users, clients, resolver, audit.NewSlogLogger(),
		15*time.Minute, 15*time.Minute, 168*time.Hour)

	return NewServer(tokens, resolver), tokens
}

// TestPurpose: Validates the ExchangeToken RPC end to end: an identity
// token is traded for a tenant-access token whose claims carry the tenant,
// roles and permissions.
// Scope: Unit Test
// Security: Token exchange over the service-to-service surface
// Expected: Access token verifies with tenant-1 scoping.
// Test Case ID: GRPC-01
func TestGRPC_ExchangeToken(t *testing.T) {
	srv, tokens := newTestServer(t)
	ctx := context.Background()

	idTok, err := tokens.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)

	result, err := srv.ExchangeToken(ctx, &ExchangeTokenRequest{
		IdentityToken: idTok,
		TenantID:      "tenant-1",
		ClientID:      "billing-svc",
	})
	require.NoError(t, err)

	claims, err := tokens.VerifyAccess(result.AccessToken, "billing-svc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, []string{"invoices:read"}, claims.Permissions)
}

// TestPurpose: Validates argument checking on ExchangeToken: missing
// fields are rejected before any token work happens.
// Scope: Unit Test
// Security: Input validation on the RPC boundary
// Expected: codes.InvalidArgument.
// Test Case ID: GRPC-02
func TestGRPC_ExchangeToken_MissingArgs(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.ExchangeToken(context.Background(), &ExchangeTokenRequest{TenantID: "tenant-1"})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestPurpose: Validates ValidateToken semantics: a good access token
// yields the verified claims, while garbage yields valid=false without an
// RPC error.
// Scope: Unit Test
// Security: Verification failure must not leak through error channels
// Expected: Valid=true with claims, then Valid=false and nil error.
// Test Case ID: GRPC-03
func TestGRPC_ValidateToken(t *testing.T) {
	srv, tokens := newTestServer(t)
	ctx := context.Background()

	idTok, err := tokens.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)
	result, err := tokens.Exchange(ctx, idTok, "tenant-1", "billing-svc")
	require.NoError(t, err)

	resp, err := srv.ValidateToken(ctx, &ValidateTokenRequest{Token: result.AccessToken, Audience: "billing-svc"})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "tenant-1", resp.TenantID)
	assert.NotZero(t, resp.ExpiresAt)

	bad, err := srv.ValidateToken(ctx, &ValidateTokenRequest{Token: "not-a-jwt"})
	require.NoError(t, err)
	assert.False(t, bad.Valid)
	assert.Empty(t, bad.UserID)
}

// TestPurpose: Validates GetUserRoles returns the live projection rather
// than anything embedded in a token.
// Scope: Unit Test
// Security: Fresh grants must be visible without re-issuing tokens
// Expected: Roles and permissions from the resolver.
// Test Case ID: GRPC-04
func TestGRPC_GetUserRoles(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.GetUserRoles(context.Background(), &GetUserRolesRequest{
		UserID: "user-1", TenantID: "tenant-1",
	})
	require.NoError(t, err)
	require.Len(t, resp.Roles, 1)
	assert.Equal(t, "accountant", resp.Roles[0].Name)
	assert.Equal(t, []string{"invoices:read"}, resp.Permissions)
}

// TestPurpose: Validates IntrospectToken over gRPC mirrors the HTTP
// introspection: active for live tokens, inactive for garbage.
// Scope: Unit Test
// Security: RFC 7662 semantics on the internal surface
// Expected: active=true then active=false, never an error.
// Test Case ID: GRPC-05
func TestGRPC_IntrospectToken(t *testing.T) {
	srv, tokens := newTestServer(t)
	ctx := context.Background()

	idTok, err := tokens.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)

	resp, err := srv.IntrospectToken(ctx, &IntrospectTokenRequest{Token: idTok})
	require.NoError(t, err)
	assert.True(t, resp.Active)

	resp, err = srv.IntrospectToken(ctx, &IntrospectTokenRequest{Token: "garbage"})
	require.NoError(t, err)
	assert.False(t, resp.Active)
}

// TestPurpose: Validates the JSON codec round-trips request messages,
// since every RPC rides on it.
// Scope: Unit Test
// Expected: Marshal then Unmarshal reproduces the message.
// Test Case ID: GRPC-06
func TestGRPC_JSONCodec(t *testing.T) {
	in := &ExchangeTokenRequest{IdentityToken: "tok", TenantID: "t1", ClientID: "c1"}

	data, err := jsonCodec{}.Marshal(in)
	require.NoError(t, err)

	var out ExchangeTokenRequest
	require.NoError(t, jsonCodec{}.Unmarshal(data, &out))
	assert.Equal(t, *in, out)
	assert.Equal(t, "json", jsonCodec{}.Name())
}
