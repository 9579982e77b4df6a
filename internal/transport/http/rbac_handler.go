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
	"github.com/auth9/auth9/internal/rbac"
)

// authorizeForService loads the named service and authorizes action
// against its owning tenant.
func (h *Handler) authorizeForService(w http.ResponseWriter, r *http.Request, serviceID, action string) bool {
	svc, err := h.relying.GetService(r.Context(), serviceID)
	if err != nil {
		respondServiceError(w, err)
		return false
	}
	action, res := serviceScope(svc, action)
	_, ok := h.authorize(w, r, action, res)
	return ok
}

// CreateRole creates a role under a service
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	if !h.authorizeForService(w, r, serviceID, authz.ActionRoleWrite) {
		return
	}

	var req struct {
		Name         string  `json:"name"`
		Description  string  `json:"description"`
		ParentRoleID *string `json:"parent_role_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	role, err := h.rbac.CreateRole(r.Context(), &rbac.Role{
		ServiceID:    serviceID,
		Name:         req.Name,
		Description:  req.Description,
		ParentRoleID: req.ParentRoleID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, role)
}

// ListRoles lists a service's roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	if !h.authorizeForService(w, r, serviceID, authz.ActionServiceRead) {
		return
	}

	roles, err := h.rbac.ListRoles(r.Context(), serviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// GetRole retrieves a role
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbac.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, role.ServiceID, authz.ActionServiceRead) {
		return
	}
	respondJSON(w, http.StatusOK, role)
}

// UpdateRole updates a role's name, description or parent
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbac.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, role.ServiceID, authz.ActionRoleWrite) {
		return
	}

	var req struct {
		Name         *string `json:"name"`
		Description  *string `json:"description"`
		ParentRoleID *string `json:"parent_role_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.ParentRoleID != nil {
		if *req.ParentRoleID == "" {
			role.ParentRoleID = nil
		} else {
			role.ParentRoleID = req.ParentRoleID
		}
	}

	updated, err := h.rbac.UpdateRole(r.Context(), role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteRole removes a role and its grants
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbac.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, role.ServiceID, authz.ActionRoleWrite) {
		return
	}

	if err := h.rbac.DeleteRole(r.Context(), role.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePermission defines a permission code under a service
func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	if !h.authorizeForService(w, r, serviceID, authz.ActionRoleWrite) {
		return
	}

	var req struct {
		Code        string `json:"code"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	perm, err := h.rbac.CreatePermission(r.Context(), &rbac.Permission{
		ServiceID:   serviceID,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, perm)
}

// ListPermissions lists a service's permissions
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")
	if !h.authorizeForService(w, r, serviceID, authz.ActionServiceRead) {
		return
	}

	perms, err := h.rbac.ListPermissions(r.Context(), serviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// DeletePermission removes a permission code
func (h *Handler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	permissionID := chi.URLParam(r, "permissionID")
	perm, err := h.rbac.GetPermission(r.Context(), permissionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, perm.ServiceID, authz.ActionRoleWrite) {
		return
	}

	if err := h.rbac.DeletePermission(r.Context(), permissionID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRolePermissions lists the permissions attached to a role, own only
func (h *Handler) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbac.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, role.ServiceID, authz.ActionServiceRead) {
		return
	}

	perms, err := h.rbac.ListRolePermissions(r.Context(), role.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// AttachPermission attaches a permission to a role
func (h *Handler) AttachPermission(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbac.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, role.ServiceID, authz.ActionRoleWrite) {
		return
	}

	var req struct {
		PermissionID string `json:"permission_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.rbac.AttachPermission(r.Context(), role.ID, req.PermissionID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

// DetachPermission detaches a permission from a role
func (h *Handler) DetachPermission(w http.ResponseWriter, r *http.Request) {
	role, err := h.rbac.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.authorizeForService(w, r, role.ServiceID, authz.ActionRoleWrite) {
		return
	}

	if err := h.rbac.DetachPermission(r.Context(), role.ID, chi.URLParam(r, "permissionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
