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

// Package action executes tenant-authored JavaScript on lifecycle triggers
// in a sandboxed interpreter with per-action timeouts and strict-mode
// pipeline semantics.
package action

import (
	"context"
	"errors"
	"time"
)

// Built-in triggers. The trigger set is extensible; these are the ones the
// broker and SCIM server fire.
const (
	TriggerPostLogin            = "post-login"
	TriggerPreUserRegistration  = "pre-user-registration"
	TriggerPostUserRegistration = "post-user-registration"
	TriggerPreTokenRefresh      = "pre-token-refresh"
)

// Domain errors
var (
	ErrActionNotFound = errors.New("action not found")
	ErrTimeout        = errors.New("action script timed out")
)

// Action is a tenant-authored script bound to a trigger.
type Action struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Name           string     `json:"name"`
	TriggerID      string     `json:"trigger_id"`
	Script         string     `json:"script"`
	Enabled        bool       `json:"enabled"`
	ExecutionOrder int        `json:"execution_order"`
	TimeoutMS      int        `json:"timeout_ms"`
	ExecutionCount int64      `json:"execution_count"`
	ErrorCount     int64      `json:"error_count"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Execution is the record of one script run.
type Execution struct {
	ID         string    `json:"id"`
	ActionID   string    `json:"action_id"`
	TenantID   string    `json:"tenant_id"`
	TriggerID  string    `json:"trigger_id"`
	UserID     string    `json:"user_id,omitempty"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository defines the interface for action persistence
type Repository interface {
	Create(ctx context.Context, action *Action) error
	GetByID(ctx context.Context, id string) (*Action, error)
	Update(ctx context.Context, action *Action) error
	Delete(ctx context.Context, id string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Action, error)
	// ListEnabled returns the enabled actions for (tenant, trigger) ordered
	// by execution_order.
	ListEnabled(ctx context.Context, tenantID, triggerID string) ([]*Action, error)
	// RecordExecution persists the execution row and bumps the per-action
	// counters. Best-effort; callers ignore its error.
	RecordExecution(ctx context.Context, exec *Execution, lastError *string) error
}
