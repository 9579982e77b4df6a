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
	"github.com/auth9/auth9/internal/security"
)

// ListAlerts lists the tenant's security alerts. ?unresolved=true filters
// to open ones.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionAlertManage, authz.Resource{
		Type: "alert", TenantID: tenantID,
	})
	if !ok {
		return
	}

	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
	limit, offset := paginationParams(r)
	alerts, err := h.security.ListAlerts(r.Context(), tenantID, unresolvedOnly, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) getTenantAlert(w http.ResponseWriter, r *http.Request) (*security.Alert, bool) {
	alert, err := h.security.GetAlert(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	if alert.TenantID != chi.URLParam(r, "tenantID") {
		respondError(w, http.StatusNotFound, "alert not found")
		return nil, false
	}
	return alert, true
}

// GetAlert retrieves an alert
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionAlertManage, authz.Resource{
		Type: "alert", TenantID: tenantID,
	})
	if !ok {
		return
	}

	alert, ok := h.getTenantAlert(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// ResolveAlert marks an alert as handled
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	p, ok := h.authorize(w, r, authz.ActionAlertManage, authz.Resource{
		Type: "alert", TenantID: tenantID,
	})
	if !ok {
		return
	}

	alert, ok := h.getTenantAlert(w, r)
	if !ok {
		return
	}

	resolved, err := h.security.ResolveAlert(r.Context(), alert.ID, p.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resolved)
}
