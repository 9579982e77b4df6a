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

// Package scim implements the SCIM 2.0 provisioning surface: Users,
// Groups as role mappings, PATCH, bulk, and the provisioning log.
package scim

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrGroupNotFound = errors.New("scim group mapping not found")
)

// PlaceholderRoleID marks a group mapping whose role the operator has not
// assigned yet.
const PlaceholderRoleID = "unmapped"

// RequestContext identifies the provisioning caller, extracted from the
// provisioning token by the transport layer.
type RequestContext struct {
	TenantID    string
	ConnectorID string
	TokenID     string
	BaseURL     string
}

// GroupMapping links an upstream SCIM group to an auth9 role. Membership
// itself derives from the RBAC projection, not from SCIM pushes.
type GroupMapping struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ConnectorID string    `json:"connector_id"`
	ScimGroupID string    `json:"scim_group_id"`
	DisplayName string    `json:"display_name,omitempty"`
	RoleID      string    `json:"role_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupRepository defines the interface for group mapping persistence
type GroupRepository interface {
	Create(ctx context.Context, mapping *GroupMapping) error
	GetByID(ctx context.Context, id string) (*GroupMapping, error)
	Update(ctx context.Context, mapping *GroupMapping) error
	Delete(ctx context.Context, id string) error
	ListByConnector(ctx context.Context, tenantID, connectorID string) ([]*GroupMapping, error)
}

// Log statuses
const (
	LogSuccess = "success"
	LogError   = "error"
)

// LogEntry is one provisioning-log row.
type LogEntry struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ConnectorID     string    `json:"connector_id"`
	Operation       string    `json:"operation"`
	ResourceType    string    `json:"resource_type"`
	ScimResourceID  string    `json:"scim_resource_id,omitempty"`
	LocalResourceID string    `json:"auth9_resource_id,omitempty"`
	Status          string    `json:"status"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	ResponseStatus  int       `json:"response_status,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// LogRepository defines the interface for provisioning log persistence
type LogRepository interface {
	Create(ctx context.Context, entry *LogEntry) error
	ListByConnector(ctx context.Context, tenantID, connectorID string, limit, offset int) ([]*LogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
