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

	"github.com/auth9/auth9/internal/webhook"
)

// WebhookRepository implements webhook.Repository
type WebhookRepository struct {
	db *DB
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `id, tenant_id, name, url, secret, events, enabled,
	failure_count, last_triggered_at, created_at, updated_at`

func scanWebhook(row pgx.Row) (*webhook.Webhook, error) {
	var w webhook.Webhook
	err := row.Scan(
		&w.ID, &w.TenantID, &w.Name, &w.URL, &w.Secret, &w.Events,
		&w.Enabled, &w.FailureCount, &w.LastTriggeredAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	return &w, nil
}

// Create inserts a webhook row
func (r *WebhookRepository) Create(ctx context.Context, hook *webhook.Webhook) error {
	now := time.Now()
	hook.CreatedAt = now
	hook.UpdatedAt = now
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO webhooks (id, tenant_id, name, url, secret, events, enabled, failure_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		hook.ID, hook.TenantID, hook.Name, hook.URL, hook.Secret,
		hook.Events, hook.Enabled, hook.FailureCount, hook.CreatedAt, hook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook: %w", err)
	}
	return nil
}

// GetByID retrieves a webhook by ID
func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*webhook.Webhook, error) {
	return scanWebhook(r.db.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
}

// Update overwrites mutable webhook fields
func (r *WebhookRepository) Update(ctx context.Context, hook *webhook.Webhook) error {
	hook.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE webhooks SET
			name = $2, url = $3, secret = $4, events = $5, enabled = $6,
			failure_count = $7, updated_at = $8
		WHERE id = $1
	`, hook.ID, hook.Name, hook.URL, hook.Secret, hook.Events, hook.Enabled, hook.FailureCount, hook.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if result.RowsAffected() == 0 {
		return webhook.ErrWebhookNotFound
	}
	return nil
}

// Delete removes a webhook row
func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if result.RowsAffected() == 0 {
		return webhook.ErrWebhookNotFound
	}
	return nil
}

// ListByTenant returns a tenant's webhooks
func (r *WebhookRepository) ListByTenant(ctx context.Context, tenantID string) ([]*webhook.Webhook, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

// ListSubscribed returns the enabled webhooks subscribed to the event,
// either explicitly or through a "*" wildcard entry.
func (r *WebhookRepository) ListSubscribed(ctx context.Context, tenantID, eventType string) ([]*webhook.Webhook, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE tenant_id = $1 AND enabled
		  AND ($2 = ANY(events) OR '*' = ANY(events))
		ORDER BY created_at
	`, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed webhooks: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

// UpdateDeliveryState persists the outcome of one delivery attempt
func (r *WebhookRepository) UpdateDeliveryState(ctx context.Context, id string, failureCount int, enabled bool, lastTriggeredAt time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE webhooks SET
			failure_count = $2, enabled = $3, last_triggered_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, failureCount, enabled, lastTriggeredAt)
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return webhook.ErrWebhookNotFound
	}
	return nil
}

func collectWebhooks(rows pgx.Rows) ([]*webhook.Webhook, error) {
	var hooks []*webhook.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}
