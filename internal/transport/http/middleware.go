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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/observability/logger"
	"github.com/auth9/auth9/internal/scim"
	"github.com/auth9/auth9/internal/token"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// bearerToken extracts the Authorization bearer credential, empty when
// absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// AuthMiddleware verifies the bearer token and stores the resulting
// principal. Tenant-access tokens are tried first, then service tokens,
// then identity tokens.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		p, ok := h.principalFor(raw)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		p.IP = getClientIP(r)
		p.UserAgent = r.UserAgent()

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) principalFor(raw string) (authz.Principal, bool) {
	if access, err := h.tokens.VerifyAccess(raw, ""); err == nil {
		clientID := ""
		if len(access.Audience) > 0 {
			clientID = access.Audience[0]
		}
		return authz.Principal{
			UserID:      access.Subject,
			Email:       access.Email,
			TokenKind:   token.KindTenantAccess,
			TenantID:    access.TenantID,
			ClientID:    clientID,
			Roles:       access.Roles,
			Permissions: access.Permissions,
		}, true
	}

	if svc, err := h.tokens.VerifyService(raw); err == nil {
		return authz.Principal{
			UserID:      svc.Subject,
			TokenKind:   authz.KindService,
			ClientID:    svc.Subject,
			Permissions: svc.Permissions,
		}, true
	}

	if idc, err := h.tokens.VerifyIdentity(raw); err == nil {
		return authz.Principal{
			UserID:    idc.Subject,
			Email:     idc.Email,
			TokenKind: token.KindIdentity,
		}, true
	}

	return authz.Principal{}, false
}

// ScimAuthMiddleware verifies the provisioning token and stores the SCIM
// request context it is bound to.
func (h *Handler) ScimAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondScimError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := h.tokens.VerifyScim(raw)
		if err != nil {
			respondScimError(w, http.StatusUnauthorized, "invalid provisioning token")
			return
		}

		rc := scim.RequestContext{
			TenantID:    claims.TenantID,
			ConnectorID: claims.ConnectorID,
			TokenID:     claims.ID,
			BaseURL:     h.publicURL + "/api/v1/scim/v2",
		}
		ctx := context.WithValue(r.Context(), scimCtxKey, rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
