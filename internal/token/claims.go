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
	"github.com/golang-jwt/jwt/v5"
)

// Token kind names used in introspection responses and the authorization
// token-type gate.
const (
	KindIdentity     = "identity"
	KindTenantAccess = "tenant_access"
	KindRefresh      = "refresh"
)

// typRefresh marks refresh tokens so they can never pass as access tokens.
const typRefresh = "refresh"

// typService marks client-credentials tokens, which carry no tenant.
const typService = "service"

// IdentityClaims is the payload of an identity token. aud equals the
// issuer: the token proves authentication, not access to any client.
type IdentityClaims struct {
	Email  string         `json:"email"`
	Name   string         `json:"name,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
	jwt.RegisteredClaims
}

// AccessClaims is the payload of a tenant access token. aud is the
// client_id it was exchanged for.
type AccessClaims struct {
	Email       string   `json:"email"`
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Typ         string   `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	TenantID string `json:"tenant_id"`
	Typ      string `json:"typ"`
	jwt.RegisteredClaims
}

// typScim marks SCIM provisioning tokens.
const typScim = "scim"

// ScimClaims is the payload of a SCIM provisioning token, binding the
// bearer to one tenant and one connector.
type ScimClaims struct {
	TenantID    string `json:"tenant_id"`
	ConnectorID string `json:"connector_id"`
	Typ         string `json:"typ"`
	jwt.RegisteredClaims
}

// Introspection is the uniform response for any token kind, RFC 7662 style.
type Introspection struct {
	Active      bool     `json:"active"`
	TokenType   string   `json:"token_type,omitempty"`
	Sub         string   `json:"sub,omitempty"`
	Email       string   `json:"email,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Exp         int64    `json:"exp,omitempty"`
	Iat         int64    `json:"iat,omitempty"`
	Iss         string   `json:"iss,omitempty"`
	Aud         string   `json:"aud,omitempty"`
}
