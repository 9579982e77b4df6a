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

// SearchUsers searches users by email or display name
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := h.authorizer.Authorize(r.Context(), p, authz.ActionUserRead, authz.Resource{
		Type: "user", TenantID: p.TenantID,
	}); err != nil {
		respondServiceError(w, err)
		return
	}

	limit, offset := paginationParams(r)
	users, total, err := h.users.SearchUsers(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

// GetUser retrieves a user. Callers may always read themselves.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if p.UserID != userID {
		if err := h.authorizer.Authorize(r.Context(), p, authz.ActionUserRead, authz.Resource{
			Type: "user", TenantID: p.TenantID, TargetUserID: userID,
		}); err != nil {
			respondServiceError(w, err)
			return
		}
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdateUser updates profile fields. Callers may always update themselves.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if p.UserID != userID {
		if err := h.authorizer.Authorize(r.Context(), p, authz.ActionUserWrite, authz.Resource{
			Type: "user", TenantID: p.TenantID, TargetUserID: userID,
		}); err != nil {
			respondServiceError(w, err)
			return
		}
	}

	var req struct {
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), userID, req.DisplayName, req.AvatarURL)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// DeleteUser removes a user entirely. Platform-level operation.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	_, ok := h.authorize(w, r, authz.ActionUserDelete, authz.Resource{
		Type: "user", TargetUserID: userID,
	})
	if !ok {
		return
	}

	if err := h.users.DeleteUser(r.Context(), userID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
