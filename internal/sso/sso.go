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

// Package sso manages enterprise SSO connectors: per-tenant SAML/OIDC
// upstreams matched by email domain, with encrypted provider config.
package sso

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrConnectorNotFound = errors.New("sso connector not found")
	ErrDomainTaken       = errors.New("email domain is already claimed by another connector")
	ErrInvalidProvider   = errors.New("provider type must be saml or oidc")
)

// Provider types
const (
	ProviderSAML = "saml"
	ProviderOIDC = "oidc"
)

// Connector is one enterprise SSO upstream for a tenant. Config holds the
// provider settings (issuer, certs, client credentials) and is encrypted
// at rest; Domains route logins by email domain, uniquely across tenants.
type Connector struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	Alias         string            `json:"alias"`
	ProviderType  string            `json:"provider_type"`
	Priority      int               `json:"priority"`
	Enabled       bool              `json:"enabled"`
	ExternalAlias string            `json:"external_alias,omitempty"`
	Config        map[string]string `json:"config,omitempty"`
	Domains       []string          `json:"domains"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Repository defines the interface for connector persistence. Upsert and
// its domain rewrite run inside one transaction in the production store.
type Repository interface {
	// Upsert inserts or replaces the connector and its domain claims
	// atomically. A domain held by a different connector fails the whole
	// operation with ErrDomainTaken.
	Upsert(ctx context.Context, conn *Connector) error
	GetByID(ctx context.Context, id string) (*Connector, error)
	GetByAlias(ctx context.Context, tenantID, alias string) (*Connector, error)
	// FindByDomain returns the enabled connector claiming the email
	// domain, highest priority first.
	FindByDomain(ctx context.Context, domain string) (*Connector, error)
	Delete(ctx context.Context, id string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Connector, error)
}
