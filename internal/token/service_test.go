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

package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/cache"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/relying"
)

// MockUserRepository is a simple in-memory implementation of identity.UserRepository
type MockUserRepository struct {
	users map[string]*identity.User
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
	for _, u := range m.users {
		if u.Email == email {
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
		if u.ScimExternalID != nil && *u.ScimExternalID == externalID {
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
	var out []*identity.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, len(out), nil
}

// MockClientRepository is a simple in-memory implementation of relying.ClientRepository
type MockClientRepository struct {
	clients map[string]*relying.Client
}

func NewMockClientRepository() *MockClientRepository {
	return &MockClientRepository{clients: make(map[string]*relying.Client)}
}

func (m *MockClientRepository) Create(ctx context.Context, client *relying.Client) error {
	m.clients[client.ClientID] = client
	return nil
}

func (m *MockClientRepository) GetByClientID(ctx context.Context, clientID string) (*relying.Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return nil, relying.ErrClientNotFound
	}
	return c, nil
}

func (m *MockClientRepository) GetByID(ctx context.Context, id string) (*relying.Client, error) {
	for _, c := range m.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, relying.ErrClientNotFound
}

func (m *MockClientRepository) UpdateSecret(ctx context.Context, id, secretHash string) error {
	return nil
}

func (m *MockClientRepository) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *MockClientRepository) ListByService(ctx context.Context, serviceID string) ([]*relying.Client, error) {
	return nil, nil
}

// staticGrantRepo returns a fixed projection for one (user, tenant, service).
type staticGrantRepo struct {
	userID    string
	tenantID  string
	serviceID string
	res       *rbac.Resolution
}

func (s *staticGrantRepo) Create(ctx context.Context, grant *rbac.Grant) error { return nil }
func (s *staticGrantRepo) Delete(ctx context.Context, tenantUserID, roleID string) error {
	return nil
}
func (s *staticGrantRepo) ListByTenantUser(ctx context.Context, tenantUserID string) ([]*rbac.Grant, error) {
	return nil, nil
}
func (s *staticGrantRepo) ResolveUserRoles(ctx context.Context, userID, tenantID, serviceID string) (*rbac.Resolution, error) {
	if userID == s.userID && tenantID == s.tenantID && serviceID == s.serviceID {
		return s.res, nil
	}
	return &rbac.Resolution{Roles: []rbac.RoleInfo{}, Permissions: []string{}}, nil
}

type noParentRoleRepo struct{}

func (noParentRoleRepo) Create(ctx context.Context, role *rbac.Role) error { return nil }
func (noParentRoleRepo) GetByID(ctx context.Context, id string) (*rbac.Role, error) {
	return &rbac.Role{ID: id}, nil
}
func (noParentRoleRepo) Update(ctx context.Context, role *rbac.Role) error { return nil }
func (noParentRoleRepo) Delete(ctx context.Context, id string) error       { return nil }
func (noParentRoleRepo) ListByService(ctx context.Context, serviceID string) ([]*rbac.Role, error) {
	return nil, nil
}
func (noParentRoleRepo) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (noParentRoleRepo) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return nil
}
func (noParentRoleRepo) ListPermissions(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	return nil, nil
}

func newExchangeFixture(t *testing.T) (*Service, *MockUserRepository, *MockClientRepository) {
	t.Helper()
	users := NewMockUserRepository()
	clients := NewMockClientRepository()

	users.users["user-1"] = &identity.User{ID: "user-1", Email: "u@example.com", DisplayName: "U"}
	clients.clients["orders-svc"] = &relying.Client{ID: "cl-1", ServiceID: "svc-1", ClientID: "orders-svc"}

	grants := &staticGrantRepo{
		userID: "user-1", tenantID: "tenant-1", serviceID: "svc-1",
		res: &rbac.Resolution{
			Roles:       []rbac.RoleInfo{{ID: "r1", Name: "viewer", ServiceID: "svc-1"}},
			Permissions: []string{"orders:read"},
		},
	}
	resolver := rbac.NewResolver(grants, noParentRoleRepo{}, cache.NewMemory(), time.Second)

	signer := NewHS256Signer("https://auth9.test", []byte("0123456789abcdef0123456789abcdef"))
	svc := NewService(signer, users, clients, resolver, audit.NewSlogLogger(),
		15*time.Minute, 15*time.Minute, 168*time.Hour)
	return svc, users, clients
}

// TestPurpose: Validates the identity→tenant-access exchange: claims carry
// the tenant, the client audience and the service-restricted role and
// permission sets, and expires_in reflects the configured TTL.
// Scope: Unit Test
// Security: Token scoping at the moment of issue
// Expected: aud=orders-svc, tenant_id=tenant-1, roles=[viewer],
// permissions=[orders:read].
// Test Case ID: TOK-01
func TestToken_Exchange(t *testing.T) {
	svc, _, _ := newExchangeFixture(t)
	ctx := context.Background()

	idTok, err := svc.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)

	result, err := svc.Exchange(ctx, idTok, "tenant-1", "orders-svc")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), result.ExpiresIn)

	claims, err := svc.VerifyAccess(result.AccessToken, "orders-svc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, []string{"viewer"}, claims.Roles)
	assert.Equal(t, []string{"orders:read"}, claims.Permissions)
	assert.Equal(t, "u@example.com", claims.Email)
}

// TestPurpose: Validates exchange error mapping: garbage tokens are
// unauthenticated, unknown clients and absent users are not-found.
// Scope: Unit Test
// Security: Error taxonomy at the exchange boundary
// Expected: KindUnauthorized / KindNotFound per failure.
// Test Case ID: TOK-02
func TestToken_Exchange_Errors(t *testing.T) {
	svc, users, _ := newExchangeFixture(t)
	ctx := context.Background()

	_, err := svc.Exchange(ctx, "not-a-jwt", "tenant-1", "orders-svc")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	idTok, err := svc.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)

	_, err = svc.Exchange(ctx, idTok, "tenant-1", "missing-client")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	delete(users.users, "user-1")
	_, err = svc.Exchange(ctx, idTok, "tenant-1", "orders-svc")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// TestPurpose: Validates introspection precedence across the three kinds:
// tenant-access first, then identity, refresh and garbage inactive.
// Scope: Unit Test
// Expected: Correct token_type per kind; active=false for refresh tokens.
// Test Case ID: TOK-03
func TestToken_Introspect(t *testing.T) {
	svc, _, _ := newExchangeFixture(t)
	ctx := context.Background()

	idTok, err := svc.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)

	result, err := svc.Exchange(ctx, idTok, "tenant-1", "orders-svc")
	require.NoError(t, err)

	intro := svc.Introspect(ctx, result.AccessToken)
	assert.True(t, intro.Active)
	assert.Equal(t, KindTenantAccess, intro.TokenType)
	assert.Equal(t, "tenant-1", intro.TenantID)
	assert.Equal(t, []string{"orders:read"}, intro.Permissions)

	intro = svc.Introspect(ctx, idTok)
	assert.True(t, intro.Active)
	assert.Equal(t, KindIdentity, intro.TokenType)
	assert.Equal(t, "u@example.com", intro.Email)
	assert.Empty(t, intro.TenantID)

	intro = svc.Introspect(ctx, result.RefreshToken)
	assert.False(t, intro.Active)

	intro = svc.Introspect(ctx, "garbage")
	assert.False(t, intro.Active)
}

// TestPurpose: Validates the refresh grant: a refresh token yields a fresh
// pair, and an access token presented as a refresh token is rejected.
// Scope: Unit Test
// Security: Token kind separation
// Expected: New pair from refresh; KindUnauthorized for the wrong kind.
// Test Case ID: TOK-04
func TestToken_Refresh(t *testing.T) {
	svc, _, _ := newExchangeFixture(t)
	ctx := context.Background()

	idTok, err := svc.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)
	result, err := svc.Exchange(ctx, idTok, "tenant-1", "orders-svc")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, result.RefreshToken)
	require.NoError(t, err)
	claims, err := svc.VerifyAccess(refreshed.AccessToken, "orders-svc")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)

	_, err = svc.Refresh(ctx, result.AccessToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func newRegisteredClaims(issuer, sub string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sub,
		Audience:  jwt.ClaimStrings{issuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// TestPurpose: Validates RS256 signing: stable kid across signers built from
// the same key, JWKS export, and rejection of tokens signed with a
// different key.
// Scope: Unit Test
// Security: Asymmetric verification and key pinning
// Expected: Identical kid for identical keys; foreign signatures fail.
// Test Case ID: TOK-05
func TestToken_RS256SignerAndJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer := NewRS256Signer("https://auth9.test", key)
	again := NewRS256Signer("https://auth9.test", key)
	assert.Equal(t, signer.kid, again.kid, "kid must be stable for the same key")

	jwks := signer.JWKS()
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "RS256", jwks.Keys[0].Alg)
	assert.Equal(t, signer.kid, jwks.Keys[0].Kid)
	assert.NotEmpty(t, jwks.Keys[0].N)

	claims := IdentityClaims{
		Email: "u@example.com",
		RegisteredClaims: newRegisteredClaims("https://auth9.test", "user-1", 5*time.Minute),
	}
	signed, err := signer.Sign(claims)
	require.NoError(t, err)

	var decoded IdentityClaims
	require.NoError(t, signer.Parse(signed, &decoded))
	assert.Equal(t, "user-1", decoded.Subject)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := NewRS256Signer("https://auth9.test", otherKey).Sign(claims)
	require.NoError(t, err)
	assert.Error(t, signer.Parse(forged, &decoded))

	// HS256 deployments publish no keys.
	hs := NewHS256Signer("https://auth9.test", []byte("secret-secret-secret-secret-1234"))
	assert.Empty(t, hs.JWKS().Keys)
}

// TestPurpose: Validates expiry enforcement during verification.
// Scope: Unit Test
// Expected: An expired token fails Parse.
// Test Case ID: TOK-06
func TestToken_Expiry(t *testing.T) {
	signer := NewHS256Signer("https://auth9.test", []byte("0123456789abcdef0123456789abcdef"))
	claims := IdentityClaims{
		Email: "u@example.com",
		RegisteredClaims: newRegisteredClaims("https://auth9.test", "user-1", -time.Minute),
	}
	signed, err := signer.Sign(claims)
	require.NoError(t, err)

	var decoded IdentityClaims
	assert.Error(t, signer.Parse(signed, &decoded))
}

// TestPurpose: Validates identity verification rejects every other token
// kind the signer mints: refresh, service, provisioning and tenant-access
// tokens must not pass as identity tokens even though their signatures
// check out.
// Scope: Unit Test
// Security: A long-lived refresh token passing identity verification would
// mint tenant-access tokens via the exchange.
// Expected: KindUnauthorized for each non-identity kind; the real identity
// token still verifies.
// Test Case ID: TOK-07
func TestToken_VerifyIdentity_RejectsOtherKinds(t *testing.T) {
	svc, _, clients := newExchangeFixture(t)
	ctx := context.Background()

	idTok, err := svc.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)
	result, err := svc.Exchange(ctx, idTok, "tenant-1", "orders-svc")
	require.NoError(t, err)

	scimTok, err := svc.IssueScimToken(ctx, "tenant-1", "conn-1", time.Hour)
	require.NoError(t, err)
	svcResult, err := svc.IssueServiceToken(ctx, clients.clients["orders-svc"], []string{"orders:read"})
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"refresh":       result.RefreshToken,
		"tenant-access": result.AccessToken,
		"scim":          scimTok,
		"service":       svcResult.AccessToken,
	} {
		_, err := svc.VerifyIdentity(tok)
		require.Error(t, err, "%s token must not verify as identity", name)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), name)
	}

	claims, err := svc.VerifyIdentity(idTok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)

	// The exchange funnels through the same check.
	_, err = svc.Exchange(ctx, result.RefreshToken, "tenant-1", "orders-svc")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
