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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/mailer"
	"github.com/auth9/auth9/internal/observability/logger"
	"github.com/auth9/auth9/internal/security"
)

const grantTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

// Authorize starts the login flow: validates the relying client and
// redirects the browser to the upstream IdP.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	if clientID == "" || redirectURI == "" {
		respondError(w, http.StatusBadRequest, "client_id and redirect_uri are required")
		return
	}

	url, err := h.broker.Authorize(r.Context(), clientID, redirectURI, q.Get("scope"), q.Get("state"), q.Get("nonce"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// Callback completes the login flow and redirects back to the relying
// service with an identity token.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		respondError(w, http.StatusBadRequest, "authorization failed: "+errCode)
		return
	}
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	result, err := h.broker.Callback(r.Context(), code, state)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// Successful broker logins feed the detection pipeline directly; the
	// IdP event webhook only sees attempts that never reached us.
	if h.security != nil && result.User != nil {
		_, err := h.security.RecordLogin(r.Context(), &security.LoginEvent{
			UserID:    result.User.ID,
			Email:     result.User.Email,
			Type:      security.EventLoginSuccess,
			IPAddress: getClientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			slog.WarnContext(r.Context(), "failed to record login event", logger.Error(err))
		}
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Token is the OAuth-style token endpoint. Supported grants:
// authorization_code, refresh_token, client_credentials and RFC 8693 token
// exchange.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		h.authorizationCodeGrant(w, r)
	case "refresh_token":
		h.refreshGrant(w, r)
	case "client_credentials":
		h.clientCredentialsGrant(w, r)
	case grantTokenExchange:
		h.tokenExchangeGrant(w, r)
	default:
		respondError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}

// authorizationCodeGrant redeems an upstream code server-side. state is
// required: it carries the signed client binding the authorize leg minted.
func (h *Handler) authorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostFormValue("code")
	state := r.PostFormValue("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	result, err := h.broker.RedeemCode(r.Context(), code, state)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) refreshGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	// Tenant-access refresh tokens are our own JWTs; anything that fails
	// local verification is treated as an IdP refresh token.
	if result, err := h.tokens.Refresh(r.Context(), refreshToken); err == nil {
		respondJSON(w, http.StatusOK, result)
		return
	}

	result, err := h.broker.Refresh(r.Context(), refreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) clientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	clientID, clientSecret := clientCredentials(r)
	if clientID == "" || clientSecret == "" {
		respondError(w, http.StatusBadRequest, "client_id and client_secret are required")
		return
	}

	client, err := h.relying.VerifySecret(r.Context(), clientID, clientSecret)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid client credentials")
		return
	}

	// Service tokens carry every permission defined by the owning service.
	perms, err := h.rbac.ListPermissions(r.Context(), client.ServiceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}

	result, err := h.tokens.IssueServiceToken(r.Context(), client, codes)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) tokenExchangeGrant(w http.ResponseWriter, r *http.Request) {
	subjectToken := r.PostFormValue("subject_token")
	tenantID := r.PostFormValue("tenant_id")
	clientID := r.PostFormValue("client_id")
	if clientID == "" {
		clientID = r.PostFormValue("audience")
	}
	if subjectToken == "" || tenantID == "" || clientID == "" {
		respondError(w, http.StatusBadRequest, "subject_token, tenant_id and client_id are required")
		return
	}

	result, err := h.tokens.Exchange(r.Context(), subjectToken, tenantID, clientID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// clientCredentials reads the client id and secret from HTTP basic auth or
// from the form body.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// UserInfo returns the profile of the authenticated principal.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.users.GetUser(r.Context(), p.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sub":     user.ID,
		"email":   user.Email,
		"name":    user.DisplayName,
		"picture": user.AvatarURL,
	})
}

// Logout redirects the browser to the IdP's end-session endpoint.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url := h.broker.LogoutURL(q.Get("id_token_hint"), q.Get("post_logout_redirect_uri"), q.Get("state"))
	http.Redirect(w, r, url, http.StatusFound)
}

// IntrospectToken reports token metadata, RFC 7662 shaped. Inactive tokens
// still get a 200 with active=false.
func (h *Handler) IntrospectToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	raw := r.PostFormValue("token")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	respondJSON(w, http.StatusOK, h.tokens.Introspect(r.Context(), raw))
}

// RequestPasswordReset mails a reset link when the account exists. The
// response is identical either way so callers cannot probe for accounts.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	if user, err := h.users.GetByEmail(r.Context(), req.Email); err == nil {
		expiry := time.Now().Add(1 * time.Hour).Unix()
		link := fmt.Sprintf("%s/reset-password?email=%s&expires=%d&sig=%s",
			h.portalURL, user.Email, expiry, h.resetSignature(user.Email, expiry))
		err := h.mail.Send(r.Context(), h.resetMessage(user.Email, link))
		if err != nil {
			slog.WarnContext(r.Context(), "failed to send password reset mail",
				logger.Email(user.Email), logger.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) resetSignature(email string, expiry int64) string {
	mac := hmac.New(sha256.New, []byte(h.resetHMACKey))
	fmt.Fprintf(mac, "%s|%d", email, expiry)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Handler) resetMessage(email, link string) mailer.Message {
	return mailer.Message{
		To:      email,
		Subject: "Reset your password",
		Body:    "A password reset was requested for your account. Follow this link to continue: " + link,
	}
}

// keycloakEvent is the shape of the upstream IdP's event webhook payload.
type keycloakEvent struct {
	Type      string            `json:"type"`
	UserID    string            `json:"userId"`
	IPAddress string            `json:"ipAddress"`
	Details   map[string]string `json:"details"`
}

// KeycloakEvents ingests IdP login events into the detection pipeline.
// The payload is authenticated with an HMAC over the raw body.
func (h *Handler) KeycloakEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.verifyEventSignature(r.Header.Get("X-Keycloak-Signature"), body) {
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event keycloakEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	var eventType string
	switch event.Type {
	case "LOGIN":
		eventType = security.EventLoginSuccess
	case "LOGIN_ERROR":
		eventType = security.EventFailedPassword
	default:
		// Other IdP events carry no detection signal.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_, err = h.security.RecordLogin(r.Context(), &security.LoginEvent{
		Email:     event.Details["username"],
		Type:      eventType,
		IPAddress: event.IPAddress,
		UserAgent: event.Details["user_agent"],
	})
	if err != nil {
		slog.WarnContext(r.Context(), "failed to record idp event", logger.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifyEventSignature(header string, body []byte) bool {
	if h.eventWebhookKey == "" || header == "" {
		return false
	}
	raw, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.eventWebhookKey))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
