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

// Package http exposes the service over chi. Every mutating route runs
// through the layered authorization engine; token and SCIM routes carry
// their own credential checks.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/auth9/auth9/internal/abac"
	"github.com/auth9/auth9/internal/action"
	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/broker"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/invite"
	"github.com/auth9/auth9/internal/mailer"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/relying"
	"github.com/auth9/auth9/internal/scim"
	"github.com/auth9/auth9/internal/security"
	"github.com/auth9/auth9/internal/sso"
	"github.com/auth9/auth9/internal/tenant"
	"github.com/auth9/auth9/internal/token"
	"github.com/auth9/auth9/internal/webhook"
)

// Services bundles everything the HTTP layer fronts.
type Services struct {
	Tokens     *token.Service
	Broker     *broker.Broker
	Authorizer *authz.Engine
	Tenants    *tenant.Service
	Users      *identity.Service
	Invites    *invite.Service
	Relying    *relying.Manager
	RBAC       *rbac.Service
	Policies   *abac.Service
	Webhooks   *webhook.Service
	Actions    *action.Service
	Security   *security.Service
	Scim       *scim.Service
	Sso        *sso.Service
	Mail       mailer.Mailer
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tokens     *token.Service
	broker     *broker.Broker
	authorizer *authz.Engine
	tenants    *tenant.Service
	users      *identity.Service
	invites    *invite.Service
	relying    *relying.Manager
	rbac       *rbac.Service
	policies   *abac.Service
	webhooks   *webhook.Service
	actions    *action.Service
	security   *security.Service
	scim       *scim.Service
	sso        *sso.Service
	mail       mailer.Mailer

	auditLogger     audit.Logger
	publicURL       string
	portalURL       string
	eventWebhookKey string
	resetHMACKey    string
	scimTokenTTL    time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(svcs Services, auditLogger audit.Logger, publicURL, portalURL, eventWebhookKey, resetHMACKey string) *Handler {
	return &Handler{
		tokens:          svcs.Tokens,
		broker:          svcs.Broker,
		authorizer:      svcs.Authorizer,
		tenants:         svcs.Tenants,
		users:           svcs.Users,
		invites:         svcs.Invites,
		relying:         svcs.Relying,
		rbac:            svcs.RBAC,
		policies:        svcs.Policies,
		webhooks:        svcs.Webhooks,
		actions:         svcs.Actions,
		security:        svcs.Security,
		scim:            svcs.Scim,
		sso:             svcs.Sso,
		mail:            svcs.Mail,
		auditLogger:     auditLogger,
		publicURL:       publicURL,
		portalURL:       portalURL,
		eventWebhookKey: eventWebhookKey,
		resetHMACKey:    resetHMACKey,
		scimTokenTTL:    365 * 24 * time.Hour,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Route("/api/v1", func(r chi.Router) {
		// Login flow; credentials are carried in the requests themselves.
		r.Route("/auth", func(r chi.Router) {
			r.Get("/authorize", h.Authorize)
			r.Get("/callback", h.Callback)
			r.Post("/token", h.Token)
			r.Get("/logout", h.Logout)
			r.Post("/introspect", h.IntrospectToken)
			r.Post("/password-reset", h.RequestPasswordReset)
			r.With(h.AuthMiddleware).Get("/userinfo", h.UserInfo)
		})

		// Upstream IdP event webhook, HMAC-verified.
		r.Post("/keycloak/events", h.KeycloakEvents)

		// SCIM provisioning surface.
		r.Route("/scim/v2", func(r chi.Router) {
			r.Use(h.ScimAuthMiddleware)
			r.Post("/Users", h.ScimCreateUser)
			r.Get("/Users", h.ScimListUsers)
			r.Get("/Users/{userID}", h.ScimGetUser)
			r.Put("/Users/{userID}", h.ScimReplaceUser)
			r.Patch("/Users/{userID}", h.ScimPatchUser)
			r.Delete("/Users/{userID}", h.ScimDeleteUser)
			r.Post("/Groups", h.ScimCreateGroup)
			r.Get("/Groups", h.ScimListGroups)
			r.Get("/Groups/{groupID}", h.ScimGetGroup)
			r.Patch("/Groups/{groupID}", h.ScimPatchGroup)
			r.Delete("/Groups/{groupID}", h.ScimDeleteGroup)
			r.Post("/Bulk", h.ScimBulk)
		})

		// Management surface; every route is token-authenticated and the
		// handlers consult the authorization engine per action.
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/tenants", func(r chi.Router) {
				r.Post("/", h.CreateTenant)
				r.Get("/", h.ListTenants)
				r.Route("/{tenantID}", func(r chi.Router) {
					r.Get("/", h.GetTenant)
					r.Put("/", h.UpdateTenant)
					r.Delete("/", h.DeleteTenant)

					r.Route("/members", func(r chi.Router) {
						r.Post("/", h.AddMember)
						r.Get("/", h.ListMembers)
						r.Put("/{userID}", h.ChangeMemberRole)
						r.Delete("/{userID}", h.RemoveMember)
						r.Route("/{userID}/roles", func(r chi.Router) {
							r.Get("/", h.GetMemberRoles)
							r.Post("/", h.AssignRole)
							r.Delete("/{roleID}", h.RevokeRole)
						})
					})

					r.Route("/invitations", func(r chi.Router) {
						r.Post("/", h.CreateInvitation)
						r.Get("/", h.ListInvitations)
						r.Delete("/{invitationID}", h.RevokeInvitation)
					})

					r.Route("/services", func(r chi.Router) {
						r.Post("/", h.CreateService)
						r.Get("/", h.ListServices)
					})

					r.Route("/webhooks", func(r chi.Router) {
						r.Post("/", h.CreateWebhook)
						r.Get("/", h.ListWebhooks)
						r.Route("/{webhookID}", func(r chi.Router) {
							r.Get("/", h.GetWebhook)
							r.Put("/", h.UpdateWebhook)
							r.Delete("/", h.DeleteWebhook)
							r.Post("/rotate-secret", h.RotateWebhookSecret)
							r.Post("/test", h.TestWebhook)
						})
					})

					r.Route("/actions", func(r chi.Router) {
						r.Post("/", h.CreateAction)
						r.Get("/", h.ListActions)
						r.Route("/{actionID}", func(r chi.Router) {
							r.Get("/", h.GetAction)
							r.Put("/", h.UpdateAction)
							r.Delete("/", h.DeleteAction)
						})
					})

					r.Route("/sso-connectors", func(r chi.Router) {
						r.Put("/", h.SaveSsoConnector)
						r.Get("/", h.ListSsoConnectors)
						r.Route("/{connectorID}", func(r chi.Router) {
							r.Get("/", h.GetSsoConnector)
							r.Delete("/", h.DeleteSsoConnector)
							r.Post("/scim-token", h.IssueScimToken)
							r.Get("/scim-log", h.ListScimLog)
						})
					})

					r.Route("/policies", func(r chi.Router) {
						r.Get("/", h.GetPolicySet)
						r.Put("/mode", h.SetPolicyMode)
						r.Post("/versions", h.SavePolicyVersion)
						r.Get("/versions", h.ListPolicyVersions)
						r.Post("/publish", h.PublishPolicy)
						r.Post("/simulate", h.SimulatePolicy)
					})

					r.Route("/alerts", func(r chi.Router) {
						r.Get("/", h.ListAlerts)
						r.Get("/{alertID}", h.GetAlert)
						r.Post("/{alertID}/resolve", h.ResolveAlert)
					})
				})
			})

			r.Post("/invitations/{invitationID}/accept", h.AcceptInvitation)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.SearchUsers)
				r.Get("/{userID}", h.GetUser)
				r.Put("/{userID}", h.UpdateUser)
				r.Delete("/{userID}", h.DeleteUser)
			})

			r.Route("/services/{serviceID}", func(r chi.Router) {
				r.Get("/", h.GetService)
				r.Put("/", h.UpdateService)
				r.Delete("/", h.DeleteService)

				r.Post("/clients", h.CreateClient)
				r.Get("/clients", h.ListClients)

				r.Post("/roles", h.CreateRole)
				r.Get("/roles", h.ListRoles)

				r.Post("/permissions", h.CreatePermission)
				r.Get("/permissions", h.ListPermissions)
			})

			r.Route("/clients/{clientID}", func(r chi.Router) {
				r.Delete("/", h.DeleteClient)
				r.Post("/rotate-secret", h.RotateClientSecret)
			})

			r.Route("/roles/{roleID}", func(r chi.Router) {
				r.Get("/", h.GetRole)
				r.Put("/", h.UpdateRole)
				r.Delete("/", h.DeleteRole)
				r.Get("/permissions", h.ListRolePermissions)
				r.Post("/permissions", h.AttachPermission)
				r.Delete("/permissions/{permissionID}", h.DetachPermission)
			})

			r.Delete("/permissions/{permissionID}", h.DeletePermission)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auth9",
	})
}

// Discovery serves the OIDC discovery document.
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	issuer := h.tokens.Signer().Issuer()
	respondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                h.publicURL + "/api/v1/auth/authorize",
		"token_endpoint":                        h.publicURL + "/api/v1/auth/token",
		"userinfo_endpoint":                     h.publicURL + "/api/v1/auth/userinfo",
		"introspection_endpoint":                h.publicURL + "/api/v1/auth/introspect",
		"end_session_endpoint":                  h.publicURL + "/api/v1/auth/logout",
		"jwks_uri":                              h.publicURL + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "client_credentials", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{h.tokens.Signer().Algorithm()},
	})
}

// JWKS serves the public signing keys. Empty for HS256 deployments.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.tokens.Signer().JWKS())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondServiceError maps domain errors onto HTTP statuses. apperr-kinded
// errors carry their own mapping; bare sentinels are translated here.
func respondServiceError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		respondError(w, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}
	respondError(w, sentinelStatus(err), err.Error())
}

func sentinelStatus(err error) int {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrMemberNotFound),
		errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, relying.ErrServiceNotFound),
		errors.Is(err, relying.ErrClientNotFound),
		errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrPermissionNotFound),
		errors.Is(err, rbac.ErrGrantNotFound),
		errors.Is(err, invite.ErrInvitationNotFound),
		errors.Is(err, abac.ErrPolicySetNotFound),
		errors.Is(err, abac.ErrVersionNotFound),
		errors.Is(err, action.ErrActionNotFound),
		errors.Is(err, webhook.ErrWebhookNotFound),
		errors.Is(err, security.ErrAlertNotFound),
		errors.Is(err, sso.ErrConnectorNotFound),
		errors.Is(err, scim.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrSlugTaken),
		errors.Is(err, tenant.ErrMemberExists),
		errors.Is(err, tenant.ErrLastOwnerRemoval),
		errors.Is(err, identity.ErrUserAlreadyExists),
		errors.Is(err, rbac.ErrDuplicateCode),
		errors.Is(err, invite.ErrPendingExists),
		errors.Is(err, security.ErrAlreadyResolved),
		errors.Is(err, sso.ErrDomainTaken):
		return http.StatusConflict
	case errors.Is(err, tenant.ErrInvalidSlug),
		errors.Is(err, tenant.ErrInvalidMemberRole),
		errors.Is(err, tenant.ErrTenantNotConfirmed),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, rbac.ErrCyclicInheritance),
		errors.Is(err, rbac.ErrCrossServiceParent),
		errors.Is(err, abac.ErrInvalidMode),
		errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, invite.ErrInvalidToken),
		errors.Is(err, invite.ErrInvalidStatus),
		errors.Is(err, invite.ErrInvitationExpired),
		errors.Is(err, sso.ErrInvalidProvider):
		return http.StatusBadRequest
	case errors.Is(err, relying.ErrInvalidSecret):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// authorize runs the engine for the calling principal and writes the
// denial response itself. The caller proceeds only on true.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, action string, res authz.Resource) (authz.Principal, bool) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return authz.Principal{}, false
	}
	if err := h.authorizer.Authorize(r.Context(), p, action, res); err != nil {
		respondServiceError(w, err)
		return p, false
	}
	return p, true
}

// paginationParams reads limit/offset query params, clamped to sane bounds.
func paginationParams(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
