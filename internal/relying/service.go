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

package relying

import (
	"context"
	"fmt"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
	"github.com/auth9/auth9/internal/secrets"
)

// Manager provides service and client lifecycle logic.
type Manager struct {
	services    ServiceRepository
	clients     ClientRepository
	hasher      *secrets.Argon2Hasher
	auditLogger audit.Logger
}

// NewManager creates a new relying-application manager.
func NewManager(services ServiceRepository, clients ClientRepository, hasher *secrets.Argon2Hasher, auditLogger audit.Logger) *Manager {
	return &Manager{
		services:    services,
		clients:     clients,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// CreateService registers a relying application.
func (m *Manager) CreateService(ctx context.Context, svc *Service) (*Service, error) {
	if svc.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	svc.ID = id.NewUUIDv7()
	if svc.Status == "" {
		svc.Status = StatusActive
	}
	if err := m.services.Create(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// GetService retrieves a service by ID.
func (m *Manager) GetService(ctx context.Context, serviceID string) (*Service, error) {
	return m.services.GetByID(ctx, serviceID)
}

// UpdateService overwrites mutable service fields.
func (m *Manager) UpdateService(ctx context.Context, svc *Service) (*Service, error) {
	existing, err := m.services.GetByID(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	existing.Name = svc.Name
	existing.BaseURL = svc.BaseURL
	existing.RedirectURIs = svc.RedirectURIs
	existing.LogoutURIs = svc.LogoutURIs
	if svc.Status != "" {
		existing.Status = svc.Status
	}
	if err := m.services.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteService removes a service, cascading to clients, roles and permissions.
func (m *Manager) DeleteService(ctx context.Context, serviceID string) error {
	return m.services.Delete(ctx, serviceID)
}

// ListServices lists services visible to a tenant, including platform services.
func (m *Manager) ListServices(ctx context.Context, tenantID string) ([]*Service, error) {
	return m.services.ListByTenant(ctx, tenantID, true)
}

// CreateClient issues credentials for a service. The clear secret is
// returned exactly once; only its Argon2id hash is stored.
func (m *Manager) CreateClient(ctx context.Context, serviceID, name string) (*Client, string, error) {
	svc, err := m.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, "", err
	}

	secret := secrets.RandomToken(32)
	secretHash, err := m.hasher.Hash(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	client := &Client{
		ID:         id.NewUUIDv7(),
		ServiceID:  svc.ID,
		ClientID:   "c_" + secrets.RandomHex(16),
		SecretHash: secretHash,
		Name:       name,
	}
	if err := m.clients.Create(ctx, client); err != nil {
		return nil, "", err
	}

	tenantID := ""
	if svc.TenantID != nil {
		tenantID = *svc.TenantID
	}
	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientCreated,
		TenantID: tenantID,
		Resource: "client",
		Metadata: map[string]any{"client_id": client.ClientID, "service_id": svc.ID},
	})

	return client, secret, nil
}

// GetClient retrieves a client by its public client_id.
func (m *Manager) GetClient(ctx context.Context, clientID string) (*Client, error) {
	return m.clients.GetByClientID(ctx, clientID)
}

// ListClients lists clients of a service.
func (m *Manager) ListClients(ctx context.Context, serviceID string) ([]*Client, error) {
	return m.clients.ListByService(ctx, serviceID)
}

// VerifySecret authenticates a client by client_id and secret.
func (m *Manager) VerifySecret(ctx context.Context, clientID, secret string) (*Client, error) {
	client, err := m.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	ok, err := m.hasher.Verify(secret, client.SecretHash)
	if err != nil || !ok {
		return nil, ErrInvalidSecret
	}
	return client, nil
}

// RotateSecret replaces a client's secret atomically and returns the new
// clear secret once.
func (m *Manager) RotateSecret(ctx context.Context, clientID string) (string, error) {
	client, err := m.clients.GetByClientID(ctx, clientID)
	if err != nil {
		return "", err
	}

	secret := secrets.RandomToken(32)
	secretHash, err := m.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	if err := m.clients.UpdateSecret(ctx, client.ID, secretHash); err != nil {
		return "", err
	}

	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSecretRotated,
		Resource: "client",
		Metadata: map[string]any{"client_id": client.ClientID},
	})

	return secret, nil
}

// DeleteClient removes a client.
func (m *Manager) DeleteClient(ctx context.Context, id string) error {
	return m.clients.Delete(ctx, id)
}
