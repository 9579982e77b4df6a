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

	"github.com/dop251/goja"

	"github.com/auth9/auth9/internal/id"
)

// Service manages action definitions. Script updates invalidate the
// engine's program cache.
type Service struct {
	repo   Repository
	engine *Engine
}

// NewService creates an action management service.
func NewService(repo Repository, engine *Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// Create registers an action after checking the script compiles.
func (s *Service) Create(ctx context.Context, act *Action) (*Action, error) {
	if act.Name == "" {
		return nil, fmt.Errorf("action name is required")
	}
	if act.TriggerID == "" {
		return nil, fmt.Errorf("action trigger is required")
	}
	if _, err := goja.Compile(act.Name, act.Script, false); err != nil {
		return nil, fmt.Errorf("script does not compile: %w", err)
	}
	act.ID = id.NewUUIDv7()
	if act.TimeoutMS <= 0 {
		act.TimeoutMS = 3000
	}
	if err := s.repo.Create(ctx, act); err != nil {
		return nil, err
	}
	return act, nil
}

// Get retrieves an action.
func (s *Service) Get(ctx context.Context, actionID string) (*Action, error) {
	return s.repo.GetByID(ctx, actionID)
}

// Update overwrites mutable fields and invalidates the cached program.
func (s *Service) Update(ctx context.Context, act *Action) (*Action, error) {
	existing, err := s.repo.GetByID(ctx, act.ID)
	if err != nil {
		return nil, err
	}
	if _, err := goja.Compile(act.Name, act.Script, false); err != nil {
		return nil, fmt.Errorf("script does not compile: %w", err)
	}
	existing.Name = act.Name
	existing.Script = act.Script
	existing.Enabled = act.Enabled
	existing.ExecutionOrder = act.ExecutionOrder
	if act.TimeoutMS > 0 {
		existing.TimeoutMS = act.TimeoutMS
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	s.engine.Invalidate(existing.ID)
	return existing, nil
}

// Delete removes an action and its cached program.
func (s *Service) Delete(ctx context.Context, actionID string) error {
	if err := s.repo.Delete(ctx, actionID); err != nil {
		return err
	}
	s.engine.Invalidate(actionID)
	return nil
}

// List lists a tenant's actions.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Action, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}
