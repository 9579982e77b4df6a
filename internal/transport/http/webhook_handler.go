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
	"github.com/auth9/auth9/internal/webhook"
)

// CreateWebhook registers an event webhook. The signing secret appears in
// this response only.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionWebhookWrite, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		Name   string   `json:"name"`
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	hook, err := h.webhooks.Create(r.Context(), &webhook.Webhook{
		TenantID: tenantID,
		Name:     req.Name,
		URL:      req.URL,
		Events:   req.Events,
		Enabled:  true,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"webhook": hook,
		"secret":  hook.Secret,
	})
}

// ListWebhooks lists the tenant's webhooks
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	hooks, err := h.webhooks.List(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

// getTenantWebhook loads the webhook and rejects IDs outside the route's
// tenant.
func (h *Handler) getTenantWebhook(w http.ResponseWriter, r *http.Request) (*webhook.Webhook, bool) {
	hook, err := h.webhooks.Get(r.Context(), chi.URLParam(r, "webhookID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	if hook.TenantID != chi.URLParam(r, "tenantID") {
		respondError(w, http.StatusNotFound, "webhook not found")
		return nil, false
	}
	return hook, true
}

// GetWebhook retrieves a webhook
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	hook, ok := h.getTenantWebhook(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, hook)
}

// UpdateWebhook updates a webhook's registration. Re-enabling resets the
// failure counter.
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionWebhookWrite, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	hook, ok := h.getTenantWebhook(w, r)
	if !ok {
		return
	}

	var req struct {
		Name    *string   `json:"name"`
		URL     *string   `json:"url"`
		Events  *[]string `json:"events"`
		Enabled *bool     `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		hook.Name = *req.Name
	}
	if req.URL != nil {
		hook.URL = *req.URL
	}
	if req.Events != nil {
		hook.Events = *req.Events
	}
	if req.Enabled != nil {
		hook.Enabled = *req.Enabled
	}

	updated, err := h.webhooks.Update(r.Context(), hook)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteWebhook removes a webhook
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionWebhookWrite, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	hook, ok := h.getTenantWebhook(w, r)
	if !ok {
		return
	}

	if err := h.webhooks.Delete(r.Context(), hook.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateWebhookSecret replaces the signing secret. The new secret appears
// in this response only.
func (h *Handler) RotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionWebhookWrite, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	hook, ok := h.getTenantWebhook(w, r)
	if !ok {
		return
	}

	secret, err := h.webhooks.RotateSecret(r.Context(), hook.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// TestWebhook sends a synthetic event and reports the delivery outcome
func (h *Handler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionWebhookWrite, authz.Resource{
		Type: "webhook", TenantID: tenantID,
	})
	if !ok {
		return
	}

	hook, ok := h.getTenantWebhook(w, r)
	if !ok {
		return
	}

	result, err := h.webhooks.Test(r.Context(), hook.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
