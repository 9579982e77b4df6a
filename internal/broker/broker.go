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

// Package broker drives the authorization-code flow between relying
// services and the upstream IdP and materialises the authenticated user.
package broker

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/idp"
	"github.com/auth9/auth9/internal/relying"
	"github.com/auth9/auth9/internal/token"
)

// Action pipeline triggers run by the broker.
const (
	TriggerPostLogin       = "post-login"
	TriggerPreTokenRefresh = "pre-token-refresh"
)

// ActionRunner executes a tenant's action pipeline for a trigger. The
// returned map carries custom claims to merge into the identity token. A
// strict-mode failure surfaces as an error and aborts the login.
type ActionRunner interface {
	RunPipeline(ctx context.Context, tenantID, trigger string, input map[string]any) (map[string]any, error)
}

// NoopActionRunner satisfies ActionRunner when no action engine is wired.
type NoopActionRunner struct{}

func (NoopActionRunner) RunPipeline(ctx context.Context, tenantID, trigger string, input map[string]any) (map[string]any, error) {
	return nil, nil
}

// Broker implements the OIDC brokering flows.
type Broker struct {
	services      relying.ServiceRepository
	clients       relying.ClientRepository
	idp           *idp.Client
	users         *identity.Service
	tokens        *token.Service
	actions       ActionRunner
	state         *stateCodec
	callbackURL   string
	idpClientID   string
	idpClientSec  string
	identityTTL   time.Duration
}

// NewBroker creates a broker. stateKey signs authorization state;
// callbackURL is this deployment's public /api/v1/auth/callback endpoint.
// idpClientID/Secret are the realm client this system is registered as at
// the upstream IdP.
func NewBroker(services relying.ServiceRepository, clients relying.ClientRepository, idpClient *idp.Client, users *identity.Service, tokens *token.Service, actions ActionRunner, stateKey []byte, callbackURL, idpClientID, idpClientSecret string, identityTTL time.Duration) *Broker {
	if actions == nil {
		actions = NoopActionRunner{}
	}
	return &Broker{
		services:     services,
		clients:      clients,
		idp:          idpClient,
		users:        users,
		tokens:       tokens,
		actions:      actions,
		state:        newStateCodec(stateKey),
		callbackURL:  callbackURL,
		idpClientID:  idpClientID,
		idpClientSec: idpClientSecret,
		identityTTL:  identityTTL,
	}
}

// Authorize validates the relying client and its redirect URI, then returns
// the IdP authorization URL carrying a signed state.
func (b *Broker) Authorize(ctx context.Context, clientID, redirectURI, scope, originalState, nonce string) (string, error) {
	client, err := b.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindBadRequest, "unknown client", err)
	}
	svc, err := b.services.GetByID(ctx, client.ServiceID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "client has no service", err)
	}
	if !svc.ValidateRedirectURI(redirectURI) {
		return "", apperr.New(apperr.KindBadRequest, "redirect_uri is not registered for this client")
	}

	state, err := b.state.Encode(statePayload{
		RedirectURI:   redirectURI,
		ClientID:      clientID,
		OriginalState: originalState,
		IssuedAt:      time.Now().Unix(),
	})
	if err != nil {
		return "", err
	}

	return b.idp.AuthorizationURL(b.idpClientID, b.callbackURL, scope, state, nonce), nil
}

// CallbackResult is the outcome of a completed login.
type CallbackResult struct {
	RedirectURL   string
	User          *identity.User
	IdentityToken string
	RefreshToken  string
}

// Callback completes the login: verifies state, redeems the code, fetches
// userinfo, materialises the user, runs the post-login pipeline and mints
// an identity token carried back to the original redirect_uri.
func (b *Broker) Callback(ctx context.Context, code, state string) (*CallbackResult, error) {
	payload, err := b.state.Decode(state)
	if err != nil {
		return nil, err
	}

	set, err := b.idp.ExchangeCode(ctx, b.idpClientID, b.idpClientSec, code, b.callbackURL)
	if err != nil {
		return nil, err
	}

	info, err := b.idp.FetchUserInfo(ctx, set.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := b.users.Materialize(ctx, identity.IdPProfile{
		Subject:     info.Subject,
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to materialise user", err)
	}

	identityToken, err := b.mintWithPipeline(ctx, user, payload.ClientID, TriggerPostLogin)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		RedirectURL:   b.tokenRedirect(payload.RedirectURI, identityToken, payload.OriginalState),
		User:          user,
		IdentityToken: identityToken,
		RefreshToken:  set.RefreshToken,
	}, nil
}

// RedeemCode completes the code flow over the token endpoint instead of the
// browser redirect: same state verification, code redemption and post-login
// pipeline, with the pair returned in the response body.
func (b *Broker) RedeemCode(ctx context.Context, code, state string) (*RefreshResult, error) {
	result, err := b.Callback(ctx, code, state)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		IdentityToken: result.IdentityToken,
		TokenType:     "Bearer",
		ExpiresIn:     int64(b.identityTTL.Seconds()),
		RefreshToken:  result.RefreshToken,
	}, nil
}

// RefreshResult is the outcome of a refresh grant.
type RefreshResult struct {
	IdentityToken string `json:"access_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int64  `json:"expires_in"`
	RefreshToken  string `json:"refresh_token"`
}

// Refresh runs the IdP refresh grant and re-executes the pre-token-refresh
// pipeline before minting a fresh identity token.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	set, err := b.idp.RefreshToken(ctx, b.idpClientID, b.idpClientSec, refreshToken)
	if err != nil {
		return nil, err
	}

	info, err := b.idp.FetchUserInfo(ctx, set.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := b.users.Materialize(ctx, identity.IdPProfile{
		Subject:     info.Subject,
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to materialise user", err)
	}

	identityToken, err := b.mintWithPipeline(ctx, user, "", TriggerPreTokenRefresh)
	if err != nil {
		return nil, err
	}

	return &RefreshResult{
		IdentityToken: identityToken,
		TokenType:     "Bearer",
		ExpiresIn:     int64(b.identityTTL.Seconds()),
		RefreshToken:  set.RefreshToken,
	}, nil
}

// LogoutURL builds the IdP logout URL, passing through the optional
// parameters.
func (b *Broker) LogoutURL(idTokenHint, postLogoutRedirectURI, state string) string {
	return b.idp.LogoutURL(idTokenHint, postLogoutRedirectURI, state)
}

// mintWithPipeline runs the trigger's action pipeline and mints the identity
// token with any custom claims the pipeline produced. Pipeline failure
// aborts the flow.
func (b *Broker) mintWithPipeline(ctx context.Context, user *identity.User, clientID, trigger string) (string, error) {
	input := map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	}
	if clientID != "" {
		input["client_id"] = clientID
	}

	// Pipelines are tenant-scoped; login-stage pipelines run under the
	// tenant owning the client when known, otherwise they are skipped by
	// the runner.
	custom, err := b.actions.RunPipeline(ctx, b.tenantForClient(ctx, clientID), trigger, input)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "action pipeline aborted login", err)
	}

	return b.tokens.IssueIdentityToken(ctx, user, custom)
}

func (b *Broker) tenantForClient(ctx context.Context, clientID string) string {
	if clientID == "" {
		return ""
	}
	client, err := b.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return ""
	}
	svc, err := b.services.GetByID(ctx, client.ServiceID)
	if err != nil || svc.TenantID == nil {
		return ""
	}
	return *svc.TenantID
}

func (b *Broker) tokenRedirect(redirectURI, identityToken, originalState string) string {
	q := url.Values{}
	q.Set("access_token", identityToken)
	q.Set("token_type", "Bearer")
	q.Set("expires_in", strconv.FormatInt(int64(b.identityTTL.Seconds()), 10))
	if originalState != "" {
		q.Set("state", originalState)
	}
	sep := "?"
	if u, err := url.Parse(redirectURI); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return redirectURI + sep + q.Encode()
}
