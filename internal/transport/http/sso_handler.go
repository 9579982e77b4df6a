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
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/scim"
	"github.com/auth9/auth9/internal/sso"
)

// SaveSsoConnector creates or updates an enterprise SSO connector together
// with its domain claims.
func (h *Handler) SaveSsoConnector(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionSsoWrite, authz.Resource{
		Type: "sso_connector", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var conn sso.Connector
	if !decodeBody(w, r, &conn) {
		return
	}
	conn.TenantID = tenantID

	saved, err := h.sso.Save(r.Context(), &conn)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// ListSsoConnectors lists the tenant's connectors
func (h *Handler) ListSsoConnectors(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "sso_connector", TenantID: tenantID,
	})
	if !ok {
		return
	}

	connectors, err := h.sso.List(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"connectors": connectors})
}

func (h *Handler) getTenantConnector(w http.ResponseWriter, r *http.Request) (*sso.Connector, bool) {
	conn, err := h.sso.Get(r.Context(), chi.URLParam(r, "connectorID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	if conn.TenantID != chi.URLParam(r, "tenantID") {
		respondError(w, http.StatusNotFound, "connector not found")
		return nil, false
	}
	return conn, true
}

// GetSsoConnector retrieves a connector
func (h *Handler) GetSsoConnector(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "sso_connector", TenantID: tenantID,
	})
	if !ok {
		return
	}

	conn, ok := h.getTenantConnector(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

// DeleteSsoConnector removes a connector and releases its domains
func (h *Handler) DeleteSsoConnector(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionSsoWrite, authz.Resource{
		Type: "sso_connector", TenantID: tenantID,
	})
	if !ok {
		return
	}

	conn, ok := h.getTenantConnector(w, r)
	if !ok {
		return
	}

	if err := h.sso.Delete(r.Context(), conn.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IssueScimToken mints a provisioning token bound to the connector. The
// token appears in this response only.
func (h *Handler) IssueScimToken(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionSsoWrite, authz.Resource{
		Type: "sso_connector", TenantID: tenantID,
	})
	if !ok {
		return
	}

	conn, ok := h.getTenantConnector(w, r)
	if !ok {
		return
	}

	tok, err := h.tokens.IssueScimToken(r.Context(), tenantID, conn.ID, h.scimTokenTTL)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"token":      tok,
		"expires_in": int64(h.scimTokenTTL / time.Second),
	})
}

// ListScimLog returns the connector's provisioning log, newest first
func (h *Handler) ListScimLog(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "sso_connector", TenantID: tenantID,
	})
	if !ok {
		return
	}

	conn, ok := h.getTenantConnector(w, r)
	if !ok {
		return
	}

	limit, offset := paginationParams(r)
	entries, err := h.scim.ListLog(r.Context(), scim.RequestContext{
		TenantID:    tenantID,
		ConnectorID: conn.ID,
	}, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
