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

// Package idp is the client for the upstream OIDC identity provider
// (Keycloak-compatible realm endpoints plus the admin API).
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/config"
)

// errorBodyLimit truncates upstream error bodies carried in messages.
const errorBodyLimit = 512

// Client talks to the upstream IdP realm.
type Client struct {
	baseURL     string
	realm       string
	adminID     string
	adminSecret string
	http        *http.Client
}

// NewClient creates an IdP client with the configured overall timeout.
func NewClient(cfg config.IdPConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		realm:       cfg.Realm,
		adminID:     cfg.AdminClientID,
		adminSecret: cfg.AdminClientSecret,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// TokenSet is the IdP's token endpoint response.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserInfo is the IdP's userinfo response.
type UserInfo struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

func (c *Client) realmURL(path string) string {
	return fmt.Sprintf("%s/realms/%s%s", c.baseURL, c.realm, path)
}

// AuthorizationURL builds the IdP authorization endpoint URL. callbackURL is
// this system's own callback; state is the signed broker state.
func (c *Client) AuthorizationURL(clientID, callbackURL, scope, state, nonce string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", callbackURL)
	if scope == "" {
		scope = "openid email profile"
	}
	q.Set("scope", scope)
	q.Set("state", state)
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	return c.realmURL("/protocol/openid-connect/auth") + "?" + q.Encode()
}

// LogoutURL builds the IdP end-session URL, forwarding the optional hint,
// post-logout redirect and state.
func (c *Client) LogoutURL(idTokenHint, postLogoutRedirectURI, state string) string {
	q := url.Values{}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	u := c.realmURL("/protocol/openid-connect/logout")
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, callbackURL string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", callbackURL)
	return c.postToken(ctx, form)
}

// RefreshToken runs the IdP refresh grant.
func (c *Client) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)
	return c.postToken(ctx, form)
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.realmURL("/protocol/openid-connect/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "idp token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError("idp token endpoint", resp)
	}

	var set TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "idp token response malformed", err)
	}
	return &set, nil
}

// FetchUserInfo calls the userinfo endpoint with the IdP access token.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.realmURL("/protocol/openid-connect/userinfo"), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "idp userinfo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError("idp userinfo endpoint", resp)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "idp userinfo response malformed", err)
	}
	return &info, nil
}

// AdminCreateUser provisions a user in the IdP realm through the admin API
// and returns the new user's IdP id. Used by SCIM provisioning.
func (c *Client) AdminCreateUser(ctx context.Context, email, displayName string, enabled bool) (string, error) {
	adminToken, err := c.adminToken(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"username":      email,
		"email":         email,
		"firstName":     displayName,
		"enabled":       enabled,
		"emailVerified": true,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to encode user payload", err)
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/users", c.baseURL, c.realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to build admin request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, "idp admin user create failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		// Keycloak returns the new id in the Location header.
		location := resp.Header.Get("Location")
		if idx := strings.LastIndexByte(location, '/'); idx >= 0 {
			return location[idx+1:], nil
		}
		return "", apperr.New(apperr.KindUpstream, "idp admin user create returned no location")
	case http.StatusConflict:
		return "", apperr.New(apperr.KindConflict, "user already exists in idp")
	default:
		return "", upstreamError("idp admin user create", resp)
	}
}

// AdminDisableUser disables a user in the IdP realm.
func (c *Client) AdminDisableUser(ctx context.Context, idpUserID string) error {
	adminToken, err := c.adminToken(ctx)
	if err != nil {
		return err
	}

	payload := []byte(`{"enabled": false}`)
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users/%s", c.baseURL, c.realm, idpUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to build admin request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "idp admin user disable failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return upstreamError("idp admin user disable", resp)
	}
	return nil
}

// adminToken obtains a client_credentials token for the admin client.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.adminID)
	form.Set("client_secret", c.adminSecret)
	set, err := c.postToken(ctx, form)
	if err != nil {
		return "", err
	}
	return set.AccessToken, nil
}

// upstreamError carries the status and a truncated body so callers never see
// an opaque status without context.
func upstreamError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return apperr.Newf(apperr.KindUpstream, "%s returned %d: %s",
		operation, resp.StatusCode, strings.TrimSpace(string(body)))
}
