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
	"github.com/auth9/auth9/internal/tenant"
)

// CreateTenant creates a tenant. Platform-level operation.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	_, ok := h.authorize(w, r, authz.ActionTenantCreate, authz.Resource{Type: "tenant"})
	if !ok {
		return
	}

	var req struct {
		Name     string          `json:"name"`
		Slug     string          `json:"slug"`
		Settings tenant.Settings `json:"settings"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	t, err := h.tenants.CreateTenant(r.Context(), req.Name, req.Slug, req.Settings)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// ListTenants lists all tenants for platform admins; everyone else gets
// the tenants they are a member of.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.authorizer.Authorize(r.Context(), p, authz.ActionTenantList, authz.Resource{Type: "tenant"}); err == nil {
		limit, offset := paginationParams(r)
		tenants, err := h.tenants.ListTenants(r.Context(), limit, offset)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
		return
	}

	memberships, err := h.tenants.ListUserTenants(r.Context(), p.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	tenants := make([]*tenant.Tenant, 0, len(memberships))
	for _, m := range memberships {
		t, err := h.tenants.GetTenant(r.Context(), m.TenantID)
		if err != nil {
			continue
		}
		tenants = append(tenants, t)
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// GetTenant retrieves a tenant
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{Type: "tenant", TenantID: tenantID})
	if !ok {
		return
	}

	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// UpdateTenant updates tenant profile and settings
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantWrite, authz.Resource{Type: "tenant", TenantID: tenantID})
	if !ok {
		return
	}

	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var req struct {
		Name           *string                `json:"name"`
		LogoURL        *string                `json:"logo_url"`
		Status         *string                `json:"status"`
		Settings       *tenant.Settings       `json:"settings"`
		PasswordPolicy *tenant.PasswordPolicy `json:"password_policy"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.LogoURL != nil {
		t.LogoURL = *req.LogoURL
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.Settings != nil {
		t.Settings = *req.Settings
	}
	if req.PasswordPolicy != nil {
		t.PasswordPolicy = req.PasswordPolicy
	}

	updated, err := h.tenants.UpdateTenant(r.Context(), t)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteTenant destroys a tenant and everything it owns. Requires the
// X-Confirm-Destructive header.
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantDelete, authz.Resource{Type: "tenant", TenantID: tenantID})
	if !ok {
		return
	}

	confirmed := r.Header.Get("X-Confirm-Destructive") == "true"
	if err := h.tenants.DeleteTenant(r.Context(), tenantID, confirmed); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddMember adds a user to a tenant
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	_, ok := h.authorize(w, r, authz.ActionMemberAdd, authz.Resource{
		Type: "member", TenantID: tenantID, TargetUserID: req.UserID,
	})
	if !ok {
		return
	}

	member, err := h.tenants.AddMember(r.Context(), tenantID, req.UserID, req.Role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

// ListMembers lists the tenant's memberships
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{Type: "member", TenantID: tenantID})
	if !ok {
		return
	}

	limit, offset := paginationParams(r)
	members, err := h.tenants.ListMembers(r.Context(), tenantID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"members": members})
}

// ChangeMemberRole changes a member's tenant-administration role
func (h *Handler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	_, ok := h.authorize(w, r, authz.ActionMemberUpdate, authz.Resource{
		Type: "member", TenantID: tenantID, TargetUserID: userID,
	})
	if !ok {
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.tenants.ChangeMemberRole(r.Context(), tenantID, userID, req.Role); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RemoveMember removes a user from a tenant
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	_, ok := h.authorize(w, r, authz.ActionMemberRemove, authz.Resource{
		Type: "member", TenantID: tenantID, TargetUserID: userID,
	})
	if !ok {
		return
	}

	if err := h.tenants.RemoveMember(r.Context(), tenantID, userID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMemberRoles lists the RBAC grants held by a member
func (h *Handler) GetMemberRoles(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "grant", TenantID: tenantID, TargetUserID: userID,
	})
	if !ok {
		return
	}

	member, err := h.tenants.GetMember(r.Context(), tenantID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	grants, err := h.rbac.ListGrants(r.Context(), member.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

// AssignRole grants an RBAC role to a member
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	p, ok := h.authorize(w, r, authz.ActionRoleAssign, authz.Resource{
		Type: "grant", TenantID: tenantID, TargetUserID: userID,
	})
	if !ok {
		return
	}

	var req struct {
		RoleID string `json:"role_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	member, err := h.tenants.GetMember(r.Context(), tenantID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	grantedBy := &p.UserID
	grant, err := h.rbac.AssignRole(r.Context(), member.ID, req.RoleID, userID, tenantID, grantedBy)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, grant)
}

// RevokeRole revokes an RBAC role from a member
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	roleID := chi.URLParam(r, "roleID")
	_, ok := h.authorize(w, r, authz.ActionRoleRevoke, authz.Resource{
		Type: "grant", TenantID: tenantID, TargetUserID: userID,
	})
	if !ok {
		return
	}

	member, err := h.tenants.GetMember(r.Context(), tenantID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if err := h.rbac.RevokeRole(r.Context(), member.ID, roleID, userID, tenantID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
