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
)

// CreateInvitation invites an email address into the tenant. The clear
// token is mailed, never returned.
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	p, ok := h.authorize(w, r, authz.ActionInvitationCreate, authz.Resource{
		Type: "invitation", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		Email   string   `json:"email"`
		RoleIDs []string `json:"role_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	inv, _, err := h.invites.Create(r.Context(), tenantID, req.Email, p.UserID, req.RoleIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, inv)
}

// ListInvitations lists the tenant's invitations
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionInvitationList, authz.Resource{
		Type: "invitation", TenantID: tenantID,
	})
	if !ok {
		return
	}

	limit, offset := paginationParams(r)
	invitations, err := h.invites.List(r.Context(), tenantID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

// RevokeInvitation revokes a pending invitation
func (h *Handler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	invitationID := chi.URLParam(r, "invitationID")
	p, ok := h.authorize(w, r, authz.ActionInvitationRevoke, authz.Resource{
		Type: "invitation", TenantID: tenantID,
	})
	if !ok {
		return
	}

	// The route is tenant-scoped; reject IDs belonging elsewhere.
	inv, err := h.invites.Get(r.Context(), invitationID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if inv.TenantID != tenantID {
		respondError(w, http.StatusNotFound, "invitation not found")
		return
	}

	if err := h.invites.Revoke(r.Context(), invitationID, p.UserID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptInvitation redeems an invitation for the calling user. The clear
// token from the invitation mail proves possession; the engine is not
// consulted because the invitee holds no tenant role yet.
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID := chi.URLParam(r, "invitationID")
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	inv, err := h.invites.Accept(r.Context(), invitationID, req.Token, p.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}
