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
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/relying"
)

// Service performs token issuance, the identity→tenant-access exchange and
// introspection.
type Service struct {
	signer      *Signer
	users       identity.UserRepository
	clients     relying.ClientRepository
	resolver    *rbac.Resolver
	auditLogger audit.Logger

	identityTTL time.Duration
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// NewService creates a token service.
func NewService(signer *Signer, users identity.UserRepository, clients relying.ClientRepository, resolver *rbac.Resolver, auditLogger audit.Logger, identityTTL, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		signer:      signer,
		users:       users,
		clients:     clients,
		resolver:    resolver,
		auditLogger: auditLogger,
		identityTTL: identityTTL,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

// Signer exposes the active signer for JWKS and discovery handlers.
func (s *Service) Signer() *Signer {
	return s.signer
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// ExchangeResult is the outcome of an identity→tenant-access exchange.
type ExchangeResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssueIdentityToken mints an identity token for a user. custom carries
// action-supplied claims and may be nil.
func (s *Service) IssueIdentityToken(ctx context.Context, user *identity.User, custom map[string]any) (string, error) {
	now := time.Now()
	claims := IdentityClaims{
		Email:  user.Email,
		Name:   user.DisplayName,
		Custom: custom,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.signer.Issuer(),
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{s.signer.Issuer()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.identityTTL)),
			ID:        id.NewUUIDv7(),
		},
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to sign identity token", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  user.ID,
		Resource: "identity_token",
		Metadata: map[string]any{audit.AttrEmail: user.Email},
	})

	return signed, nil
}

// VerifyIdentity parses and validates an identity token. Every other token
// kind the signer mints carries a typ or tenant_id claim; any token showing
// one is rejected even though the signature checks out.
func (s *Service) VerifyIdentity(tokenString string) (*IdentityClaims, error) {
	var claims IdentityClaims
	if err := s.signer.Parse(tokenString, &claims); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid identity token", err)
	}
	var kindCheck AccessClaims
	if err := s.signer.Parse(tokenString, &kindCheck); err == nil {
		if kindCheck.Typ != "" || kindCheck.TenantID != "" {
			return nil, apperr.New(apperr.KindUnauthorized, "not an identity token")
		}
	}
	return &claims, nil
}

// VerifyAccess parses and validates a tenant access token. A refresh token
// presented here is rejected even though the signature checks out. audience
// additionally pins aud when non-empty.
func (s *Service) VerifyAccess(tokenString, audience string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.signer.Parse(tokenString, &claims); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid access token", err)
	}
	if claims.TenantID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "not a tenant access token")
	}
	var refreshCheck RefreshClaims
	if err := s.signer.Parse(tokenString, &refreshCheck); err == nil && refreshCheck.Typ == typRefresh {
		return nil, apperr.New(apperr.KindUnauthorized, "refresh token used as access token")
	}
	if audience != "" {
		if len(claims.Audience) == 0 || claims.Audience[0] != audience {
			return nil, apperr.New(apperr.KindUnauthorized, "token audience mismatch")
		}
	}
	return &claims, nil
}

// IssueScimToken mints a provisioning token that a directory uses against
// the SCIM endpoints, bound to one tenant and connector.
func (s *Service) IssueScimToken(ctx context.Context, tenantID, connectorID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ScimClaims{
		TenantID:    tenantID,
		ConnectorID: connectorID,
		Typ:         typScim,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.signer.Issuer(),
			Subject:   connectorID,
			Audience:  jwt.ClaimStrings{s.signer.Issuer()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        id.NewUUIDv7(),
		},
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to sign provisioning token", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		TenantID: tenantID,
		Resource: "scim_token",
		Metadata: map[string]any{"connector_id": connectorID},
	})

	return signed, nil
}

// VerifyScim parses and validates a SCIM provisioning token.
func (s *Service) VerifyScim(tokenString string) (*ScimClaims, error) {
	var claims ScimClaims
	if err := s.signer.Parse(tokenString, &claims); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid provisioning token", err)
	}
	if claims.Typ != typScim {
		return nil, apperr.New(apperr.KindUnauthorized, "not a provisioning token")
	}
	return &claims, nil
}

// VerifyService parses and validates a client-credentials service token.
func (s *Service) VerifyService(tokenString string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.signer.Parse(tokenString, &claims); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid service token", err)
	}
	if claims.Typ != typService {
		return nil, apperr.New(apperr.KindUnauthorized, "not a service token")
	}
	return &claims, nil
}

// Exchange turns a verified identity token into a tenant-scoped access and
// refresh token pair for the given client.
func (s *Service) Exchange(ctx context.Context, identityToken, tenantID, clientID string) (*ExchangeResult, error) {
	idClaims, err := s.VerifyIdentity(identityToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, idClaims.Subject)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "user not found", err)
	}

	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "client not found", err)
	}

	result, err := s.mint(ctx, user, client, tenantID)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenExchanged,
		TenantID: tenantID,
		ActorID:  user.ID,
		Resource: "tenant_access_token",
		Metadata: map[string]any{"client_id": clientID},
	})

	return result, nil
}

// Refresh exchanges a refresh token for a new access/refresh pair, re-reading
// the current role projection so revocations take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*ExchangeResult, error) {
	var claims RefreshClaims
	if err := s.signer.Parse(refreshToken, &claims); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid refresh token", err)
	}
	if claims.Typ != typRefresh {
		return nil, apperr.New(apperr.KindUnauthorized, "not a refresh token")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "user not found", err)
	}

	clientID := ""
	if len(claims.Audience) > 0 {
		clientID = claims.Audience[0]
	}
	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "client not found", err)
	}

	result, err := s.mint(ctx, user, client, claims.TenantID)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRefreshed,
		TenantID: claims.TenantID,
		ActorID:  user.ID,
		Resource: "tenant_access_token",
		Metadata: map[string]any{"client_id": clientID},
	})

	return result, nil
}

// IssueServiceToken mints a client-credentials access token for a verified
// client. The caller supplies the permission codes of the client's service;
// no refresh token is issued for this grant.
func (s *Service) IssueServiceToken(ctx context.Context, client *relying.Client, permissions []string) (*ExchangeResult, error) {
	now := time.Now()
	claims := AccessClaims{
		Permissions: permissions,
		Typ:         typService,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.signer.Issuer(),
			Subject:   client.ClientID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        id.NewUUIDv7(),
		},
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign service token", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  client.ClientID,
		Resource: "service_token",
		Metadata: map[string]any{"client_id": client.ClientID},
	})

	return &ExchangeResult{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
	}, nil
}

// mint resolves the user's projection restricted to the client's service and
// signs the access and refresh pair.
func (s *Service) mint(ctx context.Context, user *identity.User, client *relying.Client, tenantID string) (*ExchangeResult, error) {
	resolution, err := s.resolver.Resolve(ctx, user.ID, tenantID, client.ServiceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to resolve roles", err)
	}

	roleNames := make([]string, 0, len(resolution.Roles))
	for _, r := range resolution.Roles {
		roleNames = append(roleNames, r.Name)
	}

	now := time.Now()
	access := AccessClaims{
		Email:       user.Email,
		TenantID:    tenantID,
		Roles:       roleNames,
		Permissions: resolution.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.signer.Issuer(),
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        id.NewUUIDv7(),
		},
	}
	accessToken, err := s.signer.Sign(access)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign access token", err)
	}

	refresh := RefreshClaims{
		TenantID: tenantID,
		Typ:      typRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.signer.Issuer(),
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			ID:        id.NewUUIDv7(),
		},
	}
	refreshToken, err := s.signer.Sign(refresh)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to sign refresh token", err)
	}

	return &ExchangeResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Introspect accepts any token kind, trying tenant-access first and falling
// back to identity. Anything else, including refresh tokens and garbage, is
// reported inactive rather than erroring.
func (s *Service) Introspect(ctx context.Context, tokenString string) *Introspection {
	if access, err := s.VerifyAccess(tokenString, ""); err == nil {
		aud := ""
		if len(access.Audience) > 0 {
			aud = access.Audience[0]
		}
		return &Introspection{
			Active:      true,
			TokenType:   KindTenantAccess,
			Sub:         access.Subject,
			Email:       access.Email,
			TenantID:    access.TenantID,
			Roles:       access.Roles,
			Permissions: access.Permissions,
			Exp:         access.ExpiresAt.Unix(),
			Iat:         access.IssuedAt.Unix(),
			Iss:         access.Issuer,
			Aud:         aud,
		}
	}

	if svc, err := s.VerifyService(tokenString); err == nil {
		aud := ""
		if len(svc.Audience) > 0 {
			aud = svc.Audience[0]
		}
		return &Introspection{
			Active:      true,
			TokenType:   typService,
			Sub:         svc.Subject,
			Permissions: svc.Permissions,
			Exp:         svc.ExpiresAt.Unix(),
			Iat:         svc.IssuedAt.Unix(),
			Iss:         svc.Issuer,
			Aud:         aud,
		}
	}

	if idc, err := s.VerifyIdentity(tokenString); err == nil {
		aud := ""
		if len(idc.Audience) > 0 {
			aud = idc.Audience[0]
		}
		return &Introspection{
			Active:    true,
			TokenType: KindIdentity,
			Sub:       idc.Subject,
			Email:     idc.Email,
			Exp:       idc.ExpiresAt.Unix(),
			Iat:       idc.IssuedAt.Unix(),
			Iss:       idc.Issuer,
			Aud:       aud,
		}
	}

	return &Introspection{Active: false}
}
