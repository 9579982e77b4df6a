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

package webhook

import (
	"context"
	"fmt"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
)

// Service manages webhook subscriptions.
type Service struct {
	repo        Repository
	dispatcher  *Dispatcher
	auditLogger audit.Logger
}

// NewService creates a webhook management service.
func NewService(repo Repository, dispatcher *Dispatcher, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, auditLogger: auditLogger}
}

// Create registers a webhook. A secret is generated when the caller omits
// one; the clear secret is only readable at creation and rotation time.
func (s *Service) Create(ctx context.Context, hook *Webhook) (*Webhook, error) {
	if hook.Name == "" {
		return nil, fmt.Errorf("webhook name is required")
	}
	if !validURL(hook.URL) {
		return nil, ErrInvalidURL
	}
	hook.ID = id.NewUUIDv7()
	if hook.Secret == "" {
		hook.Secret = NewSecret()
	}
	hook.Enabled = true
	hook.FailureCount = 0
	if err := s.repo.Create(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

// Get retrieves a webhook.
func (s *Service) Get(ctx context.Context, webhookID string) (*Webhook, error) {
	return s.repo.GetByID(ctx, webhookID)
}

// Update overwrites mutable fields. Re-enabling resets the failure count.
func (s *Service) Update(ctx context.Context, hook *Webhook) (*Webhook, error) {
	existing, err := s.repo.GetByID(ctx, hook.ID)
	if err != nil {
		return nil, err
	}
	if hook.URL != "" {
		if !validURL(hook.URL) {
			return nil, ErrInvalidURL
		}
		existing.URL = hook.URL
	}
	if hook.Name != "" {
		existing.Name = hook.Name
	}
	if hook.Events != nil {
		existing.Events = hook.Events
	}
	if hook.Enabled && !existing.Enabled {
		existing.FailureCount = 0
	}
	existing.Enabled = hook.Enabled
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// RotateSecret replaces the webhook secret and returns the new clear value.
// Deliveries already in flight keep signing with the prior secret.
func (s *Service) RotateSecret(ctx context.Context, webhookID string) (string, error) {
	hook, err := s.repo.GetByID(ctx, webhookID)
	if err != nil {
		return "", err
	}
	hook.Secret = NewSecret()
	if err := s.repo.Update(ctx, hook); err != nil {
		return "", err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSecretRotated,
		TenantID: hook.TenantID,
		Resource: "webhook",
		Metadata: map[string]any{"webhook_id": hook.ID},
	})

	return hook.Secret, nil
}

// Delete removes a webhook.
func (s *Service) Delete(ctx context.Context, webhookID string) error {
	return s.repo.Delete(ctx, webhookID)
}

// List lists a tenant's webhooks.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Webhook, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Test dispatches a synthetic event to the webhook.
func (s *Service) Test(ctx context.Context, webhookID string) (*DeliveryResult, error) {
	hook, err := s.repo.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.SendTest(ctx, hook), nil
}
