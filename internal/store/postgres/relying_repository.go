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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/auth9/auth9/internal/relying"
)

// ServiceRepository implements relying.ServiceRepository
type ServiceRepository struct {
	db *DB
}

// NewServiceRepository creates a new service repository
func NewServiceRepository(db *DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `id, tenant_id, name, base_url, redirect_uris, logout_uris, status, created_at, updated_at`

func scanService(row pgx.Row) (*relying.Service, error) {
	var svc relying.Service
	err := row.Scan(
		&svc.ID, &svc.TenantID, &svc.Name, &svc.BaseURL,
		&svc.RedirectURIs, &svc.LogoutURIs, &svc.Status,
		&svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, relying.ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to scan service: %w", err)
	}
	return &svc, nil
}

// Create inserts a service row
func (r *ServiceRepository) Create(ctx context.Context, svc *relying.Service) error {
	now := time.Now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO services (id, tenant_id, name, base_url, redirect_uris, logout_uris, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		svc.ID, svc.TenantID, svc.Name, svc.BaseURL,
		svc.RedirectURIs, svc.LogoutURIs, svc.Status,
		svc.CreatedAt, svc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	return nil
}

// GetByID retrieves a service by ID
func (r *ServiceRepository) GetByID(ctx context.Context, id string) (*relying.Service, error) {
	return scanService(r.db.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
}

// Update overwrites mutable service fields
func (r *ServiceRepository) Update(ctx context.Context, svc *relying.Service) error {
	svc.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE services SET
			name = $2, base_url = $3, redirect_uris = $4,
			logout_uris = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, svc.ID, svc.Name, svc.BaseURL, svc.RedirectURIs, svc.LogoutURIs, svc.Status, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return relying.ErrServiceNotFound
	}
	return nil
}

// Delete removes the service; clients, permissions and roles cascade
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return relying.ErrServiceNotFound
	}
	return nil
}

// ListByTenant returns the tenant's services, optionally including
// platform services with no tenant.
func (r *ServiceRepository) ListByTenant(ctx context.Context, tenantID string, includePlatform bool) ([]*relying.Service, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE tenant_id = $1 OR ($2 AND tenant_id IS NULL)
		ORDER BY created_at
	`, tenantID, includePlatform)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*relying.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// ClientRepository implements relying.ClientRepository
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `id, service_id, client_id, secret_hash, name, created_at`

func scanClient(row pgx.Row) (*relying.Client, error) {
	var c relying.Client
	err := row.Scan(&c.ID, &c.ServiceID, &c.ClientID, &c.SecretHash, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, relying.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}
	return &c, nil
}

// Create inserts a client row
func (r *ClientRepository) Create(ctx context.Context, client *relying.Client) error {
	client.CreatedAt = time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO clients (id, service_id, client_id, secret_hash, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, client.ID, client.ServiceID, client.ClientID, client.SecretHash, client.Name, client.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}

// GetByClientID retrieves a client by its public client_id
func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*relying.Client, error) {
	return scanClient(r.db.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, clientID))
}

// GetByID retrieves a client by primary key
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*relying.Client, error) {
	return scanClient(r.db.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

// UpdateSecret replaces the stored secret hash
func (r *ClientRepository) UpdateSecret(ctx context.Context, id, secretHash string) error {
	result, err := r.db.pool.Exec(ctx,
		`UPDATE clients SET secret_hash = $2 WHERE id = $1`, id, secretHash)
	if err != nil {
		return fmt.Errorf("failed to update client secret: %w", err)
	}
	if result.RowsAffected() == 0 {
		return relying.ErrClientNotFound
	}
	return nil
}

// Delete removes a client row
func (r *ClientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return relying.ErrClientNotFound
	}
	return nil
}

// ListByService returns the clients issued to a service
func (r *ClientRepository) ListByService(ctx context.Context, serviceID string) ([]*relying.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE service_id = $1 ORDER BY created_at
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*relying.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
