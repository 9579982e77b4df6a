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

	"github.com/auth9/auth9/internal/action"
	"github.com/auth9/auth9/internal/authz"
)

// CreateAction registers a custom script on a trigger point
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionActionWrite, authz.Resource{
		Type: "action", TenantID: tenantID,
	})
	if !ok {
		return
	}

	var req struct {
		Name           string `json:"name"`
		TriggerID      string `json:"trigger_id"`
		Script         string `json:"script"`
		Enabled        bool   `json:"enabled"`
		ExecutionOrder int    `json:"execution_order"`
		TimeoutMS      int    `json:"timeout_ms"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	act, err := h.actions.Create(r.Context(), &action.Action{
		TenantID:       tenantID,
		Name:           req.Name,
		TriggerID:      req.TriggerID,
		Script:         req.Script,
		Enabled:        req.Enabled,
		ExecutionOrder: req.ExecutionOrder,
		TimeoutMS:      req.TimeoutMS,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, act)
}

// ListActions lists the tenant's actions
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "action", TenantID: tenantID,
	})
	if !ok {
		return
	}

	actions, err := h.actions.List(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (h *Handler) getTenantAction(w http.ResponseWriter, r *http.Request) (*action.Action, bool) {
	act, err := h.actions.Get(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	if act.TenantID != chi.URLParam(r, "tenantID") {
		respondError(w, http.StatusNotFound, "action not found")
		return nil, false
	}
	return act, true
}

// GetAction retrieves an action with its execution counters
func (h *Handler) GetAction(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionTenantRead, authz.Resource{
		Type: "action", TenantID: tenantID,
	})
	if !ok {
		return
	}

	act, ok := h.getTenantAction(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, act)
}

// UpdateAction updates an action's script or scheduling
func (h *Handler) UpdateAction(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionActionWrite, authz.Resource{
		Type: "action", TenantID: tenantID,
	})
	if !ok {
		return
	}

	act, ok := h.getTenantAction(w, r)
	if !ok {
		return
	}

	var req struct {
		Name           *string `json:"name"`
		Script         *string `json:"script"`
		Enabled        *bool   `json:"enabled"`
		ExecutionOrder *int    `json:"execution_order"`
		TimeoutMS      *int    `json:"timeout_ms"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		act.Name = *req.Name
	}
	if req.Script != nil {
		act.Script = *req.Script
	}
	if req.Enabled != nil {
		act.Enabled = *req.Enabled
	}
	if req.ExecutionOrder != nil {
		act.ExecutionOrder = *req.ExecutionOrder
	}
	if req.TimeoutMS != nil {
		act.TimeoutMS = *req.TimeoutMS
	}

	updated, err := h.actions.Update(r.Context(), act)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteAction removes an action
func (h *Handler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	_, ok := h.authorize(w, r, authz.ActionActionWrite, authz.Resource{
		Type: "action", TenantID: tenantID,
	})
	if !ok {
		return
	}

	act, ok := h.getTenantAction(w, r)
	if !ok {
		return
	}

	if err := h.actions.Delete(r.Context(), act.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
