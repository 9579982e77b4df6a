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

package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/cache"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/invite"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/relying"
	"github.com/auth9/auth9/internal/tenant"
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

func (f *fixedGrantRepo) Create(ctx context.Context, grant *rbac.Grant) error           { return nil }
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

func newTokenService(t *testing.T) *token.Service {
	t.Helper()
	users := &memUserRepo{users: map[string]*identity.User{
		"user-1": {ID: "user-1", Email: "u@example.com"},
	}}
	clients := &memClientRepo{clients: map[string]*relying.Client{
		"portal": {ID: "cl-1", ServiceID: "svc-1", ClientID: "portal"},
	}}
	grants := &fixedGrantRepo{res: &rbac.Resolution{
		Roles:       []rbac.RoleInfo{{ID: "r1", Name: "admin", ServiceID: "svc-1"}},
		Permissions: []string{"tenant:read"},
	}}
	resolver := rbac.NewResolver(grants, emptyRoleRepo{}, cache.NewMemory(), time.Second)
	signer := token.NewHS256Signer("https://auth9.test", []byte("0123456789abcdef0123456789abcdef"))
	return token.NewService(signer, users, clients, resolver, audit.NewSlogLogger(),
		15*time.Minute, 15*time.Minute, 168*time.Hour)
}

// TestPurpose: Validates client IP extraction order: X-Forwarded-For wins,
// then X-Real-IP, then the socket address.
// Scope: Unit Test
// Security: Detection and rate limiting key on this address
// Expected: First XFF hop, header value, then host of RemoteAddr.
// Test Case ID: HTTP-01
func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:4321"
	assert.Equal(t, "10.0.0.9", getClientIP(r))

	r.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", getClientIP(r))
}

// TestPurpose: Validates bearer token parsing: case-insensitive scheme,
// empty result for malformed headers.
// Scope: Unit Test
// Expected: Token extracted or empty string.
// Test Case ID: HTTP-02
func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "bearer abc123")
	assert.Equal(t, "abc123", bearerToken(r))

	r.Header.Set("Authorization", "Basic abc123")
	assert.Empty(t, bearerToken(r))
}

// TestPurpose: Validates the per-IP rate limiter: the burst is honored and
// exhausting it yields 429 for that IP only.
// Scope: Unit Test
// Security: Brute-force throttling at the edge
// Expected: 200 until the burst is spent, then 429; another IP unaffected.
// Test Case ID: HTTP-03
func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		statuses = append(statuses, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.2:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestPurpose: Validates domain sentinel to status mapping on the error
// boundary shared by every handler.
// Scope: Unit Test
// Expected: 404/409/400/401 per sentinel family, 500 otherwise.
// Test Case ID: HTTP-04
func TestSentinelStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, sentinelStatus(tenant.ErrTenantNotFound))
	assert.Equal(t, http.StatusNotFound, sentinelStatus(identity.ErrUserNotFound))
	assert.Equal(t, http.StatusConflict, sentinelStatus(tenant.ErrSlugTaken))
	assert.Equal(t, http.StatusConflict, sentinelStatus(rbac.ErrDuplicateCode))
	assert.Equal(t, http.StatusBadRequest, sentinelStatus(tenant.ErrTenantNotConfirmed))
	assert.Equal(t, http.StatusBadRequest, sentinelStatus(invite.ErrInvitationExpired))
	assert.Equal(t, http.StatusUnauthorized, sentinelStatus(relying.ErrInvalidSecret))
	assert.Equal(t, http.StatusInternalServerError, sentinelStatus(assert.AnError))
}

// TestPurpose: Validates AuthMiddleware token classification: tenant-access
// tokens, service tokens and identity tokens each produce the right
// principal kind, and garbage is rejected.
// Scope: Unit Test
// Security: The principal kind drives the layer-1 token-type gate
// Expected: KindTenantAccess, KindService, KindIdentity, then 401.
// Test Case ID: HTTP-05
func TestAuthMiddleware_Classification(t *testing.T) {
	tokens := newTokenService(t)
	h := &Handler{tokens: tokens}
	ctx := context.Background()

	var captured authz.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := h.AuthMiddleware(next)

	serve := func(raw string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if raw != "" {
			r.Header.Set("Authorization", "Bearer "+raw)
		}
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, r)
		return w.Code
	}

	idTok, err := tokens.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, serve(idTok))
	assert.Equal(t, token.KindIdentity, captured.TokenKind)
	assert.Equal(t, "user-1", captured.UserID)

	exchange, err := tokens.Exchange(ctx, idTok, "tenant-1", "portal")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, serve(exchange.AccessToken))
	assert.Equal(t, token.KindTenantAccess, captured.TokenKind)
	assert.Equal(t, "tenant-1", captured.TenantID)
	assert.Equal(t, "portal", captured.ClientID)

	svcTok, err := tokens.IssueServiceToken(ctx, &relying.Client{ID: "cl-1", ServiceID: "svc-1", ClientID: "portal"}, []string{"invoices:read"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, serve(svcTok.AccessToken))
	assert.Equal(t, authz.KindService, captured.TokenKind)
	assert.Equal(t, "portal", captured.ClientID)

	assert.Equal(t, http.StatusUnauthorized, serve("garbage"))
	assert.Equal(t, http.StatusUnauthorized, serve(""))
}

// TestPurpose: Validates the IdP event webhook HMAC: a correctly signed
// body passes, tampered bodies and missing keys fail closed.
// Scope: Unit Test
// Security: Webhook authentication
// Expected: true only for sha256=<hex of HMAC(key, body)>.
// Test Case ID: HTTP-06
func TestVerifyEventSignature(t *testing.T) {
	h := &Handler{eventWebhookKey: "webhook-key"}
	body := []byte(`{"type":"LOGIN_ERROR"}`)

	mac := hmac.New(sha256.New, []byte("webhook-key"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, h.verifyEventSignature(sig, body))
	assert.False(t, h.verifyEventSignature(sig, []byte(`{"type":"LOGIN"}`)))
	assert.False(t, h.verifyEventSignature("sha256=zz", body))
	assert.False(t, h.verifyEventSignature("", body))

	unkeyed := &Handler{}
	assert.False(t, unkeyed.verifyEventSignature(sig, body))
}

// TestPurpose: Validates the SCIM middleware: a provisioning token binds
// the request to its tenant and connector, and plain access tokens are
// rejected with a SCIM-schema error body.
// Scope: Unit Test
// Security: Provisioning surface accepts provisioning tokens only
// Expected: Request context populated; 401 with the SCIM error URN.
// Test Case ID: HTTP-07
func TestScimAuthMiddleware(t *testing.T) {
	tokens := newTokenService(t)
	h := &Handler{tokens: tokens, publicURL: "https://auth9.test"}
	ctx := context.Background()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := GetScimContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "tenant-1", rc.TenantID)
		assert.Equal(t, "conn-1", rc.ConnectorID)
		assert.Equal(t, "https://auth9.test/api/v1/scim/v2", rc.BaseURL)
		w.WriteHeader(http.StatusOK)
	})
	mw := h.ScimAuthMiddleware(next)

	scimTok, err := tokens.IssueScimToken(ctx, "tenant-1", "conn-1", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/Users", nil)
	r.Header.Set("Authorization", "Bearer "+scimTok)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	idTok, err := tokens.IssueIdentityToken(ctx, &identity.User{ID: "user-1", Email: "u@example.com"}, nil)
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/Users", nil)
	r.Header.Set("Authorization", "Bearer "+idTok)
	w = httptest.NewRecorder()
	mw.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var scimErr map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scimErr))
	assert.Contains(t, scimErr["schemas"], "urn:ietf:params:scim:api:messages:2.0:Error")
	assert.Equal(t, "401", scimErr["status"])
}

// TestPurpose: Validates the health endpoint and router wiring for an
// unauthenticated route.
// Scope: Unit Test
// Expected: 200 with service name.
// Test Case ID: HTTP-08
func TestHealthCheck(t *testing.T) {
	h := &Handler{}
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "auth9", body["service"])
}

// TestPurpose: Validates pagination parsing: defaults, clamping of absurd
// limits and rejection of negatives.
// Scope: Unit Test
// Expected: 50/0 default, explicit values honored within bounds.
// Test Case ID: HTTP-09
func TestPaginationParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=75", nil)
	limit, offset := paginationParams(r)
	assert.Equal(t, 25, limit)
	assert.Equal(t, 75, offset)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	limit, offset = paginationParams(r)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	r = httptest.NewRequest(http.MethodGet, "/?limit=100000&offset=-3", nil)
	limit, offset = paginationParams(r)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)
}
