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
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/relying"
)

// serviceScope maps a stored service to the authorization action and
// resource for it. Platform services (no owning tenant) fall under the
// platform rule regardless of the requested action.
func serviceScope(svc *relying.Service, action string) (string, authz.Resource) {
	if svc.TenantID == nil {
		return authz.ActionPlatformWrite, authz.Resource{Type: "service"}
	}
	return action, authz.Resource{Type: "service", TenantID: *svc.TenantID}
}

// CreateService registers a relying service under a tenant
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionServiceWrite, authz.Resource{
		Type: "service", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		Name         string   `json:"name"`
		BaseURL      string   `json:"base_url"`
		RedirectURIs []string `json:"redirect_uris"`
		LogoutURIs   []string `json:"logout_uris"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	svc, err := h.relying.CreateService(r.Context(), &relying.Service{
		TenantID:     &tenantID,
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		RedirectURIs: req.RedirectURIs,
		LogoutURIs:   req.LogoutURIs,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, svc)
}

// ListServices lists the tenant's services, platform services included
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionServiceRead, authz.Resource{
		Type: "service", TenantID: tenantID,
	})
	if !ok {
		return
	}

	services, err := h.relying.ListServices(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"services": services})
}

// GetService retrieves a service
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.relying.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceRead)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

// UpdateService updates a service's registration
func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.relying.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceWrite)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}

	var req struct {
		Name         *string   `json:"name"`
		BaseURL      *string   `json:"base_url"`
		RedirectURIs *[]string `json:"redirect_uris"`
		LogoutURIs   *[]string `json:"logout_uris"`
		Status       *string   `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		svc.Name = *req.Name
	}
	if req.BaseURL != nil {
		svc.BaseURL = *req.BaseURL
	}
	if req.RedirectURIs != nil {
		svc.RedirectURIs = *req.RedirectURIs
	}
	if req.LogoutURIs != nil {
		svc.LogoutURIs = *req.LogoutURIs
	}
	if req.Status != nil {
		svc.Status = *req.Status
	}

	updated, err := h.relying.UpdateService(r.Context(), svc)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteService removes a service and its clients, roles and permissions
func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.relying.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceWrite)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}

	if err := h.relying.DeleteService(r.Context(), svc.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateClient registers an OAuth client under a service. The clear secret
// appears in this response only.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	svc, err := h.relying.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceWrite)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	client, clearSecret, err := h.relying.CreateClient(r.Context(), svc.ID, req.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"client":        client,
		"client_secret": clearSecret,
	})
}

// ListClients lists a service's clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	svc, err := h.relying.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceRead)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}

	clients, err := h.relying.ListClients(r.Context(), svc.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

// RotateClientSecret replaces the client secret. The new clear secret
// appears in this response only.
func (h *Handler) RotateClientSecret(w http.ResponseWriter, r *http.Request) {
	client, svc, ok := h.clientWithService(w, r)
	if !ok {
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceWrite)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}

	secret, err := h.relying.RotateSecret(r.Context(), client.ClientID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
}

// DeleteClient removes an OAuth client
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	client, svc, ok := h.clientWithService(w, r)
	if !ok {
		return
	}

	action, res := serviceScope(svc, authz.ActionServiceWrite)
	if _, ok := h.authorize(w, r, action, res); !ok {
		return
	}

	if err := h.relying.DeleteClient(r.Context(), client.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clientWithService(w http.ResponseWriter, r *http.Request) (*relying.Client, *relying.Service, bool) {
	client, err := h.relying.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, nil, false
	}
	svc, err := h.relying.GetService(r.Context(), client.ServiceID)
	if err != nil {
		respondServiceError(w, err)
		return nil, nil, false
	}
	return client, svc, true
}
