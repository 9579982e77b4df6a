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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/scim"
)

const scimContentType = "application/scim+json"

func respondScim(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", scimContentType)
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondScimError(w http.ResponseWriter, status int, detail string) {
	respondScim(w, status, scim.ErrorResponse{
		Schemas: []string{scim.SchemaError},
		Status:  strconv.Itoa(status),
		Detail:  detail,
	})
}

// respondScimServiceError renders a domain error in the SCIM error schema.
func respondScimServiceError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		respondScimError(w, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}
	respondScimError(w, sentinelStatus(err), err.Error())
}

func scimContext(w http.ResponseWriter, r *http.Request) (scim.RequestContext, bool) {
	rc, ok := GetScimContext(r.Context())
	if !ok {
		respondScimError(w, http.StatusUnauthorized, "not authenticated")
	}
	return rc, ok
}

func decodeScimBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondScimError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ScimCreateUser provisions a user
func (h *Handler) ScimCreateUser(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	var res scim.UserResource
	if !decodeScimBody(w, r, &res) {
		return
	}

	created, err := h.scim.CreateUser(r.Context(), rc, &res)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusCreated, created)
}

// ScimListUsers lists users, optionally filtered
func (h *Handler) ScimListUsers(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	startIndex := 1
	if v, err := strconv.Atoi(q.Get("startIndex")); err == nil && v > 0 {
		startIndex = v
	}
	count := 100
	if v, err := strconv.Atoi(q.Get("count")); err == nil && v >= 0 {
		count = v
	}

	resp, err := h.scim.ListUsers(r.Context(), rc, q.Get("filter"), startIndex, count)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, resp)
}

// ScimGetUser retrieves a user
func (h *Handler) ScimGetUser(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	res, err := h.scim.GetUser(r.Context(), rc, chi.URLParam(r, "userID"))
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, res)
}

// ScimReplaceUser replaces a user's attributes
func (h *Handler) ScimReplaceUser(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	var res scim.UserResource
	if !decodeScimBody(w, r, &res) {
		return
	}

	updated, err := h.scim.ReplaceUser(r.Context(), rc, chi.URLParam(r, "userID"), &res)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, updated)
}

// ScimPatchUser applies PatchOp operations to a user
func (h *Handler) ScimPatchUser(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	var req scim.PatchRequest
	if !decodeScimBody(w, r, &req) {
		return
	}

	updated, err := h.scim.PatchUser(r.Context(), rc, chi.URLParam(r, "userID"), &req)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, updated)
}

// ScimDeleteUser deprovisions a user
func (h *Handler) ScimDeleteUser(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	if err := h.scim.DeleteUser(r.Context(), rc, chi.URLParam(r, "userID")); err != nil {
		respondScimServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScimCreateGroup registers a group mapping
func (h *Handler) ScimCreateGroup(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	var res scim.GroupResource
	if !decodeScimBody(w, r, &res) {
		return
	}

	created, err := h.scim.CreateGroup(r.Context(), rc, &res)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusCreated, created)
}

// ScimListGroups lists the connector's group mappings
func (h *Handler) ScimListGroups(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	resp, err := h.scim.ListGroups(r.Context(), rc)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, resp)
}

// ScimGetGroup retrieves a group mapping
func (h *Handler) ScimGetGroup(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	res, err := h.scim.GetGroup(r.Context(), rc, chi.URLParam(r, "groupID"))
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, res)
}

// ScimPatchGroup logs group PATCH operations. Membership derives from the
// role projection, so the mapping itself is the only mutable part.
func (h *Handler) ScimPatchGroup(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	var req scim.PatchRequest
	if !decodeScimBody(w, r, &req) {
		return
	}

	updated, err := h.scim.PatchGroup(r.Context(), rc, chi.URLParam(r, "groupID"), &req)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, updated)
}

// ScimDeleteGroup removes a group mapping
func (h *Handler) ScimDeleteGroup(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	if err := h.scim.DeleteGroup(r.Context(), rc, chi.URLParam(r, "groupID")); err != nil {
		respondScimServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScimBulk executes a bulk envelope of user and group operations
func (h *Handler) ScimBulk(w http.ResponseWriter, r *http.Request) {
	rc, ok := scimContext(w, r)
	if !ok {
		return
	}

	var req scim.BulkRequest
	if !decodeScimBody(w, r, &req) {
		return
	}

	resp, err := h.scim.Bulk(r.Context(), rc, &req)
	if err != nil {
		respondScimServiceError(w, err)
		return
	}
	respondScim(w, http.StatusOK, resp)
}
