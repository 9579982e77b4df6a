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

	"github.com/auth9/auth9/internal/abac"
	"github.com/auth9/auth9/internal/authz"
)

// GetPolicySet retrieves the tenant's policy set
func (h *Handler) GetPolicySet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "policy", TenantID: tenantID,
	})
	if !ok {
		return
	}

	set, err := h.policies.GetPolicySet(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, set)
}

// SetPolicyMode switches the set between disabled, shadow and enforce
func (h *Handler) SetPolicyMode(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionPolicyWrite, authz.Resource{
		Type: "policy", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	set, err := h.policies.SetMode(r.Context(), tenantID, req.Mode)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, set)
}

// SavePolicyVersion stores a new immutable policy version. Publishing is a
// separate step.
func (h *Handler) SavePolicyVersion(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionPolicyWrite, authz.Resource{
		Type: "policy", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		PolicyJSON string `json:"policy_json"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	version, err := h.policies.SaveVersion(r.Context(), tenantID, req.PolicyJSON)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, version)
}

// ListPolicyVersions lists stored versions, newest first
func (h *Handler) ListPolicyVersions(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "policy", TenantID: tenantID,
	})
	if !ok {
		return
	}

	versions, err := h.policies.ListVersions(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// PublishPolicy makes a stored version the evaluated one
func (h *Handler) PublishPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionPolicyWrite, authz.Resource{
		Type: "policy", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		VersionID string `json:"version_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	set, err := h.policies.Publish(r.Context(), tenantID, req.VersionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, set)
}

// SimulatePolicy evaluates a policy document against a caller-supplied
// attribute context without touching stored state.
func (h *Handler) SimulatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionPolicyWrite, authz.Resource{
		Type: "policy", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		PolicyJSON   string         `json:"policy_json"`
		Action       string         `json:"action"`
		ResourceType string         `json:"resource_type"`
		Context      map[string]any `json:"context"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PolicyJSON == "" || req.Action == "" {
		respondError(w, http.StatusBadRequest, "policy_json and action are required")
		return
	}

	doc, err := abac.ParseDocument(req.PolicyJSON)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	outcome := abac.Simulate(doc, req.Action, req.ResourceType, abac.Context(req.Context))
	respondJSON(w, http.StatusOK, outcome)
}
