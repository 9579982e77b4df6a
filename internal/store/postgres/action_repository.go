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

	"github.com/auth9/auth9/internal/action"
)

// ActionRepository implements action.Repository
type ActionRepository struct {
	db *DB
}

// NewActionRepository creates a new action repository
func NewActionRepository(db *DB) *ActionRepository {
	return &ActionRepository{db: db}
}

const actionColumns = `id, tenant_id, name, trigger_id, script, enabled, execution_order,
	timeout_ms, execution_count, error_count, last_error, created_at, updated_at`

func scanAction(row pgx.Row) (*action.Action, error) {
	var a action.Action
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Name, &a.TriggerID, &a.Script, &a.Enabled,
		&a.ExecutionOrder, &a.TimeoutMS, &a.ExecutionCount, &a.ErrorCount,
		&a.LastError, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, action.ErrActionNotFound
		}
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}
	return &a, nil
}

// Create inserts an action row
func (r *ActionRepository) Create(ctx context.Context, a *action.Action) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO actions (id, tenant_id, name, trigger_id, script, enabled, execution_order, timeout_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID, a.TenantID, a.Name, a.TriggerID, a.Script, a.Enabled,
		a.ExecutionOrder, a.TimeoutMS, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// GetByID retrieves an action by ID
func (r *ActionRepository) GetByID(ctx context.Context, id string) (*action.Action, error) {
	return scanAction(r.db.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, id))
}

// Update overwrites mutable action fields
func (r *ActionRepository) Update(ctx context.Context, a *action.Action) error {
	a.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE actions SET
			name = $2, trigger_id = $3, script = $4, enabled = $5,
			execution_order = $6, timeout_ms = $7, updated_at = $8
		WHERE id = $1
	`, a.ID, a.Name, a.TriggerID, a.Script, a.Enabled, a.ExecutionOrder, a.TimeoutMS, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	if result.RowsAffected() == 0 {
		return action.ErrActionNotFound
	}
	return nil
}

// Delete removes an action; execution records cascade
func (r *ActionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM actions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	if result.RowsAffected() == 0 {
		return action.ErrActionNotFound
	}
	return nil
}

// ListByTenant returns a tenant's actions in execution order
func (r *ActionRepository) ListByTenant(ctx context.Context, tenantID string) ([]*action.Action, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+actionColumns+` FROM actions
		WHERE tenant_id = $1 ORDER BY trigger_id, execution_order
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()
	return collectActions(rows)
}

// ListEnabled returns the enabled actions for one trigger in execution
// order.
func (r *ActionRepository) ListEnabled(ctx context.Context, tenantID, triggerID string) ([]*action.Action, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+actionColumns+` FROM actions
		WHERE tenant_id = $1 AND trigger_id = $2 AND enabled
		ORDER BY execution_order
	`, tenantID, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled actions: %w", err)
	}
	defer rows.Close()
	return collectActions(rows)
}

// RecordExecution persists one execution and bumps the action's counters
// in a single transaction.
func (r *ActionRepository) RecordExecution(ctx context.Context, exec *action.Execution, lastError *string) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	exec.CreatedAt = time.Now()
	var userID *string
	if exec.UserID != "" {
		userID = &exec.UserID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO action_executions (id, action_id, tenant_id, trigger_id, user_id, success, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		exec.ID, exec.ActionID, exec.TenantID, exec.TriggerID, userID,
		exec.Success, exec.DurationMS, exec.Error, exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action execution: %w", err)
	}

	errorBump := 0
	if !exec.Success {
		errorBump = 1
	}
	_, err = tx.Exec(ctx, `
		UPDATE actions SET
			execution_count = execution_count + 1,
			error_count = error_count + $2,
			last_error = COALESCE($3, last_error)
		WHERE id = $1
	`, exec.ActionID, errorBump, lastError)
	if err != nil {
		return fmt.Errorf("failed to update action counters: %w", err)
	}

	return tx.Commit(ctx)
}

func collectActions(rows pgx.Rows) ([]*action.Action, error) {
	var actions []*action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
