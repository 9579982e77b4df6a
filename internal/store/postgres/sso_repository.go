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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/auth9/auth9/internal/sso"
)

// SsoRepository implements sso.Repository
type SsoRepository struct {
	db *DB
}

// NewSsoRepository creates a new connector repository
func NewSsoRepository(db *DB) *SsoRepository {
	return &SsoRepository{db: db}
}

const connectorColumns = `c.id, c.tenant_id, c.alias, c.provider_type, c.priority,
	c.enabled, c.external_alias, c.config, c.created_at, c.updated_at`

func scanConnector(row pgx.Row) (*sso.Connector, error) {
	var c sso.Connector
	var config []byte
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Alias, &c.ProviderType, &c.Priority,
		&c.Enabled, &c.ExternalAlias, &config, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sso.ErrConnectorNotFound
		}
		return nil, fmt.Errorf("failed to scan connector: %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &c.Config); err != nil {
			return nil, fmt.Errorf("failed to decode connector config: %w", err)
		}
	}
	return &c, nil
}

// Upsert writes the connector row and rewrites its domain claims in one
// transaction. The domains table's primary key enforces global uniqueness;
// a clash with another connector surfaces as ErrDomainTaken.
func (r *SsoRepository) Upsert(ctx context.Context, conn *sso.Connector) error {
	config, err := json.Marshal(conn.Config)
	if err != nil {
		return fmt.Errorf("failed to encode connector config: %w", err)
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	_, err = tx.Exec(ctx, `
		INSERT INTO sso_connectors (id, tenant_id, alias, provider_type, priority, enabled, external_alias, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			alias = EXCLUDED.alias,
			provider_type = EXCLUDED.provider_type,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			external_alias = EXCLUDED.external_alias,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at
	`,
		conn.ID, conn.TenantID, conn.Alias, conn.ProviderType, conn.Priority,
		conn.Enabled, conn.ExternalAlias, config, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("connector alias already in use: %w", err)
		}
		return fmt.Errorf("failed to upsert connector: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM sso_connector_domains WHERE connector_id = $1`, conn.ID)
	if err != nil {
		return fmt.Errorf("failed to clear domain claims: %w", err)
	}
	for _, domain := range conn.Domains {
		_, err = tx.Exec(ctx, `
			INSERT INTO sso_connector_domains (domain, connector_id) VALUES ($1, $2)
		`, domain, conn.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return sso.ErrDomainTaken
			}
			return fmt.Errorf("failed to claim domain: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a connector and its domains
func (r *SsoRepository) GetByID(ctx context.Context, id string) (*sso.Connector, error) {
	conn, err := scanConnector(r.db.pool.QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM sso_connectors c WHERE c.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadDomains(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// GetByAlias retrieves a connector by tenant-scoped alias
func (r *SsoRepository) GetByAlias(ctx context.Context, tenantID, alias string) (*sso.Connector, error) {
	conn, err := scanConnector(r.db.pool.QueryRow(ctx, `
		SELECT `+connectorColumns+` FROM sso_connectors c
		WHERE c.tenant_id = $1 AND c.alias = $2
	`, tenantID, alias))
	if err != nil {
		return nil, err
	}
	if err := r.loadDomains(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// FindByDomain returns the highest-priority enabled connector claiming the
// domain.
func (r *SsoRepository) FindByDomain(ctx context.Context, domain string) (*sso.Connector, error) {
	conn, err := scanConnector(r.db.pool.QueryRow(ctx, `
		SELECT `+connectorColumns+` FROM sso_connectors c
		JOIN sso_connector_domains d ON d.connector_id = c.id
		WHERE d.domain = $1 AND c.enabled
		ORDER BY c.priority DESC LIMIT 1
	`, domain))
	if err != nil {
		return nil, err
	}
	if err := r.loadDomains(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Delete removes the connector; its domain claims cascade
func (r *SsoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM sso_connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connector: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sso.ErrConnectorNotFound
	}
	return nil
}

// ListByTenant returns a tenant's connectors, highest priority first
func (r *SsoRepository) ListByTenant(ctx context.Context, tenantID string) ([]*sso.Connector, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+connectorColumns+` FROM sso_connectors c
		WHERE c.tenant_id = $1 ORDER BY c.priority DESC, c.alias
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer rows.Close()

	var connectors []*sso.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range connectors {
		if err := r.loadDomains(ctx, c); err != nil {
			return nil, err
		}
	}
	return connectors, nil
}

func (r *SsoRepository) loadDomains(ctx context.Context, conn *sso.Connector) error {
	rows, err := r.db.pool.Query(ctx, `
		SELECT domain FROM sso_connector_domains WHERE connector_id = $1 ORDER BY domain
	`, conn.ID)
	if err != nil {
		return fmt.Errorf("failed to load connector domains: %w", err)
	}
	defer rows.Close()

	conn.Domains = nil
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return fmt.Errorf("failed to scan connector domain: %w", err)
		}
		conn.Domains = append(conn.Domains, domain)
	}
	return rows.Err()
}
