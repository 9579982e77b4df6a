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

package action

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const TriggerPreProvision = "pre-provision"

// MockRepository is a simple in-memory implementation of Repository
type MockRepository struct {
	actions    map[string]*Action
	executions []*Execution
}

func NewMockRepository() *MockRepository {
	return &MockRepository{actions: make(map[string]*Action)}
}

func (m *MockRepository) Create(ctx context.Context, action *Action) error {
	m.actions[action.ID] = action
	return nil
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*Action, error) {
	a, ok := m.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	return a, nil
}

func (m *MockRepository) Update(ctx context.Context, action *Action) error {
	m.actions[action.ID] = action
	return nil
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	delete(m.actions, id)
	return nil
}

func (m *MockRepository) ListByTenant(ctx context.Context, tenantID string) ([]*Action, error) {
	var out []*Action
	for _, a := range m.actions {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockRepository) ListEnabled(ctx context.Context, tenantID, triggerID string) ([]*Action, error) {
	var out []*Action
	for _, a := range m.actions {
		if a.TenantID == tenantID && a.TriggerID == triggerID && a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionOrder < out[j].ExecutionOrder })
	return out, nil
}

func (m *MockRepository) RecordExecution(ctx context.Context, exec *Execution, lastError *string) error {
	m.executions = append(m.executions, exec)
	if a, ok := m.actions[exec.ActionID]; ok {
		a.ExecutionCount++
		if !exec.Success {
			a.ErrorCount++
			a.LastError = lastError
		}
	}
	return nil
}

func newEngineFixture(t *testing.T) (*Engine, *MockRepository) {
	t.Helper()
	repo := NewMockRepository()
	engine, err := NewEngine(repo, 3*time.Second)
	require.NoError(t, err)
	return engine, repo
}

func addAction(repo *MockRepository, id, trigger, script string, order int, timeoutMS int) *Action {
	a := &Action{
		ID: id, TenantID: "tenant-1", Name: id, TriggerID: trigger,
		Script: script, Enabled: true, ExecutionOrder: order, TimeoutMS: timeoutMS,
	}
	repo.actions[id] = a
	return a
}

// TestPurpose: Validates sequential chaining: each action receives the
// previous action's returned context, ordered by execution_order, and the
// final claims map is surfaced to the caller.
// Scope: Unit Test
// Expected: Claims accumulate across the chain in order.
// Test Case ID: ACT-01
func TestAction_Engine_Chaining(t *testing.T) {
	engine, repo := newEngineFixture(t)
	ctx := context.Background()

	addAction(repo, "first", TriggerPostLogin,
		`context.claims = {step: "one"}; context`, 1, 0)
	addAction(repo, "second", TriggerPostLogin,
		`context.claims.step = context.claims.step + "-two"; context`, 2, 0)

	claims, err := engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{
		"user": map[string]any{"id": "u1", "email": "u@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, claims)
	assert.Equal(t, "one-two", claims["step"])

	require.Len(t, repo.executions, 2)
	assert.True(t, repo.executions[0].Success)
	assert.Equal(t, "u1", repo.executions[0].UserID)
}

// TestPurpose: Validates strict mode: the first throwing action aborts the
// pipeline, later actions never run, and counters record the error.
// Scope: Unit Test
// Expected: Error naming the failing action; one execution recorded with
// error_count bumped.
// Test Case ID: ACT-02
func TestAction_Engine_StrictAbort(t *testing.T) {
	engine, repo := newEngineFixture(t)
	ctx := context.Background()

	addAction(repo, "boom", TriggerPostLogin, `throw new Error("nope")`, 1, 0)
	addAction(repo, "never", TriggerPostLogin, `context.claims = {ran: true}; context`, 2, 0)

	_, err := engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.Len(t, repo.executions, 1)
	assert.False(t, repo.executions[0].Success)
	assert.Equal(t, int64(1), repo.actions["boom"].ErrorCount)
	require.NotNil(t, repo.actions["boom"].LastError)
	assert.Equal(t, int64(0), repo.actions["never"].ExecutionCount)
}

// TestPurpose: Validates timeout enforcement: a script that never returns is
// interrupted at its deadline, recorded as failed, and aborts the pipeline.
// Scope: Unit Test
// Security: Resource containment of tenant scripts
// Expected: ErrTimeout within well under the test deadline.
// Test Case ID: ACT-03
func TestAction_Engine_Timeout(t *testing.T) {
	engine, repo := newEngineFixture(t)
	ctx := context.Background()

	addAction(repo, "spin", TriggerPostLogin, `while (true) {}`, 1, 50)

	start := time.Now()
	_, err := engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "expected timeout, got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, repo.executions, 1)
	assert.False(t, repo.executions[0].Success)
}

// TestPurpose: Validates that no actions for a trigger means a nil claims
// result and no error, and that disabled actions are skipped.
// Scope: Unit Test
// Expected: nil, nil for empty pipelines.
// Test Case ID: ACT-04
func TestAction_Engine_EmptyPipeline(t *testing.T) {
	engine, repo := newEngineFixture(t)
	ctx := context.Background()

	claims, err := engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, claims)

	a := addAction(repo, "off", TriggerPostLogin, `context.claims = {x: 1}; context`, 1, 0)
	a.Enabled = false

	claims, err = engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, claims)

	// A pipeline with no tenant scope is skipped outright.
	claims, err = engine.RunPipeline(ctx, "", TriggerPostLogin, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, claims)
}

// TestPurpose: Validates program cache invalidation on update: after the
// script changes, the engine runs the new code, not the cached bytecode.
// Scope: Unit Test
// Expected: Output reflects the updated script.
// Test Case ID: ACT-05
func TestAction_Engine_CacheInvalidation(t *testing.T) {
	engine, repo := newEngineFixture(t)
	svc := NewService(repo, engine)
	ctx := context.Background()

	created, err := svc.Create(ctx, &Action{
		TenantID: "tenant-1", Name: "tag", TriggerID: TriggerPostLogin,
		Script: `context.claims = {v: "old"}; context`, Enabled: true, ExecutionOrder: 1,
	})
	require.NoError(t, err)

	claims, err := engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "old", claims["v"])

	created.Script = `context.claims = {v: "new"}; context`
	_, err = svc.Update(ctx, created)
	require.NoError(t, err)

	claims, err = engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "new", claims["v"])
}

// TestPurpose: Validates that scripts which do not compile are rejected at
// create and update time.
// Scope: Unit Test
// Expected: Error mentioning compilation; nothing persisted.
// Test Case ID: ACT-06
func TestAction_Service_RejectsBrokenScripts(t *testing.T) {
	engine, repo := newEngineFixture(t)
	svc := NewService(repo, engine)
	ctx := context.Background()

	_, err := svc.Create(ctx, &Action{
		TenantID: "tenant-1", Name: "broken", TriggerID: TriggerPostLogin,
		Script: `function {`, Enabled: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
	assert.Empty(t, repo.actions)
}

// TestPurpose: Validates runtime reuse after a timeout: a pooled runtime
// whose deadline fired must not carry a pending interrupt into the next
// run, which would spuriously abort a healthy script.
// Scope: Unit Test
// Security: One tenant's timed-out script must not poison later pipelines
// Expected: Timeouts, then repeated clean runs succeed with their claims.
// Test Case ID: ACT-07
func TestAction_Engine_CleanRunAfterTimeout(t *testing.T) {
	engine, repo := newEngineFixture(t)
	ctx := context.Background()

	addAction(repo, "spin", TriggerPostLogin, `while (true) {}`, 1, 20)
	addAction(repo, "greet", TriggerPreProvision, `({hello: "world"})`, 1, 0)

	_, err := engine.RunPipeline(ctx, "tenant-1", TriggerPostLogin, map[string]any{})
	require.ErrorIs(t, err, ErrTimeout)

	// The pool holds one runtime under GOMAXPROCS=1 style reuse; loop a
	// few times so the post-timeout runtime is certainly exercised.
	for i := 0; i < 5; i++ {
		claims, err := engine.RunPipeline(ctx, "tenant-1", TriggerPreProvision, map[string]any{})
		require.NoError(t, err, "run %d after timeout", i)
		assert.Equal(t, "world", claims["hello"])
	}
}
