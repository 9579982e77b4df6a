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

package sso

import (
	"context"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
	"github.com/auth9/auth9/internal/secrets"
)

// sensitiveKeys are config entries encrypted before persistence.
var sensitiveKeys = map[string]bool{
	"client_secret":   true,
	"private_key":     true,
	"signing_key":     true,
	"encryption_cert": true,
}

const encryptedPrefix = "enc:"

// Service manages connectors, encrypting sensitive config values with the
// settings key before they reach the store.
type Service struct {
	repo        Repository
	box         *secrets.Box
	auditLogger audit.Logger
}

// NewService creates an SSO connector service. box may be nil in tests;
// config then persists unencrypted.
func NewService(repo Repository, box *secrets.Box, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, box: box, auditLogger: auditLogger}
}

// Save validates and upserts a connector. Domains are normalised to
// lowercase; duplicates inside the request collapse. A domain already
// claimed elsewhere fails with a conflict.
func (s *Service) Save(ctx context.Context, conn *Connector) (*Connector, error) {
	if conn.ProviderType != ProviderSAML && conn.ProviderType != ProviderOIDC {
		return nil, apperr.Wrap(apperr.KindBadRequest, "invalid provider type", ErrInvalidProvider)
	}
	if conn.Alias == "" {
		return nil, apperr.New(apperr.KindBadRequest, "connector alias is required")
	}
	if conn.ID == "" {
		conn.ID = id.NewUUIDv7()
		conn.CreatedAt = time.Now().UTC()
	}
	conn.UpdatedAt = time.Now().UTC()
	conn.Domains = normaliseDomains(conn.Domains)

	if err := s.sealConfig(conn); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, conn); err != nil {
		if err == ErrDomainTaken {
			return nil, apperr.Wrap(apperr.KindConflict, "email domain is already claimed", err)
		}
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSsoConnectorSaved,
		TenantID: conn.TenantID,
		Resource: "sso_connector",
		Metadata: map[string]any{
			"connector_id":  conn.ID,
			"alias":         conn.Alias,
			"provider_type": conn.ProviderType,
			"domains":       conn.Domains,
		},
	})
	return conn, nil
}

// Get returns a connector with sensitive config decrypted for the caller.
func (s *Service) Get(ctx context.Context, connectorID string) (*Connector, error) {
	conn, err := s.repo.GetByID(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if err := s.openConfig(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ForEmail resolves the connector claiming the email's domain, if any.
func (s *Service) ForEmail(ctx context.Context, email string) (*Connector, error) {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return nil, apperr.New(apperr.KindBadRequest, "invalid email address")
	}
	conn, err := s.repo.FindByDomain(ctx, strings.ToLower(email[at+1:]))
	if err != nil {
		return nil, err
	}
	if err := s.openConfig(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Delete removes a connector and releases its domain claims.
func (s *Service) Delete(ctx context.Context, connectorID string) error {
	return s.repo.Delete(ctx, connectorID)
}

// List returns a tenant's connectors with sensitive config redacted.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Connector, error) {
	conns, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, conn := range conns {
		for key := range conn.Config {
			if sensitiveKeys[key] {
				conn.Config[key] = "[REDACTED]"
			}
		}
	}
	return conns, nil
}

func (s *Service) sealConfig(conn *Connector) error {
	if s.box == nil {
		return nil
	}
	for key, value := range conn.Config {
		if !sensitiveKeys[key] || strings.HasPrefix(value, encryptedPrefix) {
			continue
		}
		sealed, err := s.box.Encrypt(value)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to encrypt connector config", err)
		}
		conn.Config[key] = encryptedPrefix + sealed
	}
	return nil
}

func (s *Service) openConfig(conn *Connector) error {
	if s.box == nil {
		return nil
	}
	for key, value := range conn.Config {
		if !strings.HasPrefix(value, encryptedPrefix) {
			continue
		}
		plain, err := s.box.Decrypt(strings.TrimPrefix(value, encryptedPrefix))
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to decrypt connector config", err)
		}
		conn.Config[key] = plain
	}
	return nil
}

func normaliseDomains(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	var out []string
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
