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

package scim

import (
	"time"

	"github.com/auth9/auth9/internal/identity"
)

// SCIM schema URNs
const (
	SchemaUser         = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup        = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaPatchOp      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SchemaBulkRequest  = "urn:ietf:params:scim:api:messages:2.0:BulkRequest"
	SchemaBulkResponse = "urn:ietf:params:scim:api:messages:2.0:BulkResponse"
	SchemaError        = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// Meta is the common SCIM resource metadata block.
type Meta struct {
	ResourceType string    `json:"resourceType"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Location     string    `json:"location,omitempty"`
}

// Email is one SCIM email entry.
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Photo is one SCIM photo entry.
type Photo struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Name is the SCIM name complex attribute; only formatted is mapped.
type Name struct {
	Formatted string `json:"formatted,omitempty"`
}

// UserResource is the SCIM wire form of a user.
type UserResource struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id,omitempty"`
	ExternalID  string   `json:"externalId,omitempty"`
	UserName    string   `json:"userName"`
	DisplayName string   `json:"displayName,omitempty"`
	Name        *Name    `json:"name,omitempty"`
	Active      bool     `json:"active"`
	Emails      []Email  `json:"emails,omitempty"`
	Photos      []Photo  `json:"photos,omitempty"`
	Meta        Meta     `json:"meta"`
}

// GroupMember is one SCIM group member reference.
type GroupMember struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// GroupResource is the SCIM wire form of a group mapping.
type GroupResource struct {
	Schemas     []string      `json:"schemas"`
	ID          string        `json:"id,omitempty"`
	ExternalID  string        `json:"externalId,omitempty"`
	DisplayName string        `json:"displayName"`
	Members     []GroupMember `json:"members,omitempty"`
	Meta        Meta          `json:"meta"`
}

// ListResponse is the SCIM paginated list envelope.
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// ErrorResponse is the SCIM error envelope.
type ErrorResponse struct {
	Schemas []string `json:"schemas"`
	Status  string   `json:"status"`
	Detail  string   `json:"detail,omitempty"`
}

// PatchOperation is one entry of a PatchOp request.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchRequest is the SCIM PATCH body.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// BulkOperation is one entry of a bulk request.
type BulkOperation struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	BulkID string `json:"bulkId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// BulkRequest is the SCIM bulk envelope.
type BulkRequest struct {
	Schemas      []string        `json:"schemas"`
	FailOnErrors int             `json:"failOnErrors,omitempty"`
	Operations   []BulkOperation `json:"Operations"`
}

// BulkResult is one entry of a bulk response.
type BulkResult struct {
	Method   string `json:"method"`
	BulkID   string `json:"bulkId,omitempty"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// BulkResponse is the SCIM bulk response envelope.
type BulkResponse struct {
	Schemas    []string     `json:"schemas"`
	Operations []BulkResult `json:"Operations"`
}

// mapUser renders a user in SCIM form.
func mapUser(u *identity.User, baseURL string, now time.Time) *UserResource {
	res := &UserResource{
		Schemas:     []string{SchemaUser},
		ID:          u.ID,
		UserName:    u.Email,
		DisplayName: u.DisplayName,
		Active:      !u.IsDeactivated(now),
		Emails:      []Email{{Value: u.Email, Type: "work", Primary: true}},
		Meta: Meta{
			ResourceType: "User",
			Created:      u.CreatedAt,
			LastModified: u.UpdatedAt,
		},
	}
	if u.ScimExternalID != nil {
		res.ExternalID = *u.ScimExternalID
	}
	if u.DisplayName != "" {
		res.Name = &Name{Formatted: u.DisplayName}
	}
	if u.AvatarURL != "" {
		res.Photos = []Photo{{Value: u.AvatarURL, Type: "photo"}}
	}
	if baseURL != "" {
		res.Meta.Location = baseURL + "/Users/" + u.ID
	}
	return res
}
