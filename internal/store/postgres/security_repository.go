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

	"github.com/auth9/auth9/internal/security"
)

// nullable maps an optional model string onto a nullable UUID column.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LoginEventRepository implements security.EventRepository
type LoginEventRepository struct {
	db *DB
}

// NewLoginEventRepository creates a new login event repository
func NewLoginEventRepository(db *DB) *LoginEventRepository {
	return &LoginEventRepository{db: db}
}

// Create inserts a login event row
func (r *LoginEventRepository) Create(ctx context.Context, event *security.LoginEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO login_events (id, tenant_id, user_id, email, event_type, ip_address, user_agent, location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		event.ID, nullable(event.TenantID), nullable(event.UserID), event.Email,
		event.Type, event.IPAddress, event.UserAgent, event.Location, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert login event: %w", err)
	}
	return nil
}

// CountFailuresByIP counts failed password attempts from one IP since the
// cutoff.
func (r *LoginEventRepository) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_events
		WHERE ip_address = $1 AND event_type = $2 AND created_at >= $3
	`, ip, security.EventFailedPassword, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures by ip: %w", err)
	}
	return count, nil
}

// CountDistinctFailedAccounts counts distinct targeted accounts behind
// failed attempts from one IP since the cutoff.
func (r *LoginEventRepository) CountDistinctFailedAccounts(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT email) FROM login_events
		WHERE ip_address = $1 AND event_type = $2 AND created_at >= $3 AND email <> ''
	`, ip, security.EventFailedPassword, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct failed accounts: %w", err)
	}
	return count, nil
}

// ListRecentSuccesses returns the user's newest successful logins
func (r *LoginEventRepository) ListRecentSuccesses(ctx context.Context, userID string, limit int) ([]*security.LoginEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, user_id, email, event_type, ip_address, user_agent, location, created_at
		FROM login_events
		WHERE user_id = $1 AND event_type = $2
		ORDER BY created_at DESC LIMIT $3
	`, userID, security.EventLoginSuccess, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent logins: %w", err)
	}
	defer rows.Close()

	var events []*security.LoginEvent
	for rows.Next() {
		var e security.LoginEvent
		var tenantID, uid *string
		err := rows.Scan(&e.ID, &tenantID, &uid, &e.Email, &e.Type,
			&e.IPAddress, &e.UserAgent, &e.Location, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login event: %w", err)
		}
		e.TenantID = deref(tenantID)
		e.UserID = deref(uid)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteOlderThan purges login events older than the cutoff
func (r *LoginEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx,
		`DELETE FROM login_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge login events: %w", err)
	}
	return result.RowsAffected(), nil
}

// AlertRepository implements security.AlertRepository
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func scanAlert(row pgx.Row) (*security.Alert, error) {
	var a security.Alert
	var tenantID, userID *string
	var details []byte
	err := row.Scan(&a.ID, &tenantID, &userID, &a.Type, &a.Severity,
		&details, &a.ResolvedAt, &a.ResolvedBy, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, security.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.TenantID = deref(tenantID)
	a.UserID = deref(userID)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, fmt.Errorf("failed to decode alert details: %w", err)
		}
	}
	return &a, nil
}

// Create inserts an alert row
func (r *AlertRepository) Create(ctx context.Context, alert *security.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("failed to encode alert details: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO security_alerts (id, tenant_id, user_id, alert_type, severity, details, resolved_at, resolved_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		alert.ID, nullable(alert.TenantID), nullable(alert.UserID), alert.Type,
		alert.Severity, details, alert.ResolvedAt, alert.ResolvedBy, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*security.Alert, error) {
	return scanAlert(r.db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, alert_type, severity, details, resolved_at, resolved_by, created_at
		FROM security_alerts WHERE id = $1
	`, id))
}

// Update overwrites the alert's resolution state
func (r *AlertRepository) Update(ctx context.Context, alert *security.Alert) error {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("failed to encode alert details: %w", err)
	}
	result, err := r.db.pool.Exec(ctx, `
		UPDATE security_alerts SET details = $2, resolved_at = $3, resolved_by = $4
		WHERE id = $1
	`, alert.ID, details, alert.ResolvedAt, alert.ResolvedBy)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return security.ErrAlertNotFound
	}
	return nil
}

// ListByTenant pages a tenant's alerts, newest first
func (r *AlertRepository) ListByTenant(ctx context.Context, tenantID string, unresolvedOnly bool, limit, offset int) ([]*security.Alert, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, user_id, alert_type, severity, details, resolved_at, resolved_by, created_at
		FROM security_alerts
		WHERE tenant_id = $1 AND (NOT $2 OR resolved_at IS NULL)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, tenantID, unresolvedOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*security.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DeleteOlderThan purges alerts older than the cutoff
func (r *AlertRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx,
		`DELETE FROM security_alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts: %w", err)
	}
	return result.RowsAffected(), nil
}
