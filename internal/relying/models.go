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

// Package relying models the applications that rely on auth9 for login and
// authorization: a Service is the application, a Client carries its OAuth
// credentials.
package relying

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrServiceNotFound = errors.New("service not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrInvalidSecret   = errors.New("invalid client credentials")
)

// Service status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Service represents a relying application. TenantID is nil for platform
// services available to every tenant.
type Service struct {
	ID           string    `json:"id"`
	TenantID     *string   `json:"tenant_id,omitempty"`
	Name         string    `json:"name"`
	BaseURL      string    `json:"base_url,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	LogoutURIs   []string  `json:"logout_uris,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidateRedirectURI checks the URI against the registered list.
// Exact match only; no wildcard or prefix matching.
func (s *Service) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range s.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// Client represents OAuth credentials issued to a Service.
type Client struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"service_id"`
	ClientID   string    `json:"client_id"`
	SecretHash string    `json:"-"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ServiceRepository defines the interface for service persistence
type ServiceRepository interface {
	Create(ctx context.Context, svc *Service) error
	GetByID(ctx context.Context, id string) (*Service, error)
	Update(ctx context.Context, svc *Service) error
	Delete(ctx context.Context, id string) error
	ListByTenant(ctx context.Context, tenantID string, includePlatform bool) ([]*Service, error)
}

// ClientRepository defines the interface for client persistence
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
	GetByID(ctx context.Context, id string) (*Client, error)
	UpdateSecret(ctx context.Context, id, secretHash string) error
	Delete(ctx context.Context, id string) error
	ListByService(ctx context.Context, serviceID string) ([]*Client, error)
}
