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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/auth9/auth9/internal/id"
)

// programCacheSize bounds the compiled-script cache.
const programCacheSize = 100

// Engine runs action pipelines. Compiled programs are cached per action id
// in an LRU; runtimes are pooled and reused, with the context binding reset
// on every run. Globals a script sets outside context may persist across
// runs on the same runtime.
type Engine struct {
	repo           Repository
	programs       *lru.Cache[string, *goja.Program]
	runtimes       sync.Pool
	defaultTimeout time.Duration
}

// NewEngine creates an action engine. defaultTimeout applies to actions
// with no timeout of their own.
func NewEngine(repo Repository, defaultTimeout time.Duration) (*Engine, error) {
	programs, err := lru.New[string, *goja.Program](programCacheSize)
	if err != nil {
		return nil, err
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 3 * time.Second
	}
	return &Engine{
		repo:           repo,
		programs:       programs,
		runtimes:       sync.Pool{New: func() any { return goja.New() }},
		defaultTimeout: defaultTimeout,
	}, nil
}

// Invalidate drops an action's cached program. Called on script update and
// delete.
func (e *Engine) Invalidate(actionID string) {
	e.programs.Remove(actionID)
}

// RunPipeline executes the enabled actions for (tenant, trigger) strictly in
// execution order, feeding each the previous action's returned context. The
// first throw or timeout aborts. It returns the claims map of the final
// context for token enrichment, or nil when no action ran.
func (e *Engine) RunPipeline(ctx context.Context, tenantID, trigger string, input map[string]any) (map[string]any, error) {
	if tenantID == "" {
		return nil, nil
	}
	final, ran, err := e.runChain(ctx, tenantID, trigger, input)
	if err != nil {
		return nil, err
	}
	if !ran {
		return nil, nil
	}
	if claims, ok := final["claims"].(map[string]any); ok {
		return claims, nil
	}
	return nil, nil
}

// Execute runs the pipeline and returns the complete final context.
func (e *Engine) Execute(ctx context.Context, tenantID, trigger string, input map[string]any) (map[string]any, error) {
	final, _, err := e.runChain(ctx, tenantID, trigger, input)
	return final, err
}

func (e *Engine) runChain(ctx context.Context, tenantID, trigger string, input map[string]any) (map[string]any, bool, error) {
	actions, err := e.repo.ListEnabled(ctx, tenantID, trigger)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list actions: %w", err)
	}
	if len(actions) == 0 {
		return input, false, nil
	}

	current := input
	if current == nil {
		current = map[string]any{}
	}

	for _, act := range actions {
		started := time.Now()
		next, runErr := e.runOne(ctx, act, current)

		e.record(ctx, act, trigger, current, time.Since(started), runErr)

		if runErr != nil {
			return nil, true, fmt.Errorf("%s: %w", act.Name, runErr)
		}
		if next != nil {
			current = next
		}
	}
	return current, true, nil
}

// runOne executes one script against the current context. The deadline is
// enforced asynchronously via runtime interruption.
func (e *Engine) runOne(ctx context.Context, act *Action, current map[string]any) (result map[string]any, err error) {
	program, ok := e.programs.Get(act.ID)
	if !ok {
		program, err = goja.Compile(act.Name, act.Script, false)
		if err != nil {
			return nil, fmt.Errorf("script compile error: %w", err)
		}
		e.programs.Add(act.ID, program)
	}

	timeout := e.defaultTimeout
	if act.TimeoutMS > 0 {
		timeout = time.Duration(act.TimeoutMS) * time.Millisecond
	}

	rt := e.runtimes.Get().(*goja.Runtime)
	// A previous run's timer may have fired after its interrupt was
	// cleared; drop anything still pending before executing.
	rt.ClearInterrupt()
	defer e.runtimes.Put(rt)

	// Reset the context binding; other globals from previous runs on this
	// runtime may persist (documented sandbox limitation).
	if err := rt.Set("context", current); err != nil {
		return nil, fmt.Errorf("failed to bind context: %w", err)
	}

	timer := time.AfterFunc(timeout, func() { rt.Interrupt(ErrTimeout) })
	stop := context.AfterFunc(ctx, func() { rt.Interrupt(ctx.Err()) })
	// Both interrupt sources are stopped before the clear so a late
	// firing cannot leave a pending interrupt on the pooled runtime.
	defer func() {
		timer.Stop()
		stop()
		rt.ClearInterrupt()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panic: %v", r)
		}
	}()

	value, runErr := rt.RunProgram(program)
	if runErr != nil {
		var interrupted *goja.InterruptedError
		if ok := asInterrupted(runErr, &interrupted); ok {
			if v, isErr := interrupted.Value().(error); isErr && v == ErrTimeout {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("script interrupted: %v", interrupted.Value())
		}
		return nil, fmt.Errorf("script error: %w", runErr)
	}

	// The script's final value becomes the new context when it is an
	// object; otherwise the incoming context flows through unchanged.
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	if exported, ok := value.Export().(map[string]any); ok {
		return exported, nil
	}
	return nil, nil
}

func asInterrupted(err error, target **goja.InterruptedError) bool {
	ie, ok := err.(*goja.InterruptedError)
	if ok {
		*target = ie
	}
	return ok
}

// record persists the execution row and counters, best-effort.
func (e *Engine) record(ctx context.Context, act *Action, trigger string, current map[string]any, elapsed time.Duration, runErr error) {
	userID := ""
	if u, ok := current["user"].(map[string]any); ok {
		userID, _ = u["id"].(string)
	}
	if s, ok := current["user_id"].(string); ok && userID == "" {
		userID = s
	}

	exec := &Execution{
		ID:         id.NewUUIDv7(),
		ActionID:   act.ID,
		TenantID:   act.TenantID,
		TriggerID:  trigger,
		UserID:     userID,
		Success:    runErr == nil,
		DurationMS: elapsed.Milliseconds(),
	}
	var lastError *string
	if runErr != nil {
		msg := runErr.Error()
		exec.Error = msg
		lastError = &msg
	}

	if err := e.repo.RecordExecution(ctx, exec, lastError); err != nil {
		slog.WarnContext(ctx, "failed to record action execution",
			slog.String("action_id", act.ID), slog.String("error", err.Error()))
	}
}
