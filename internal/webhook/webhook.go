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

// Package webhook fans tenant events out to HTTP endpoints with signed
// payloads, SSRF-guarded dialing, bounded retries and auto-disable.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/secrets"
)

// Domain errors
var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidURL      = errors.New("webhook url must be http or https")
)

// Webhook is one tenant-configured endpoint subscription.
type Webhook struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	Enabled         bool       `json:"enabled"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Subscribed reports whether the webhook listens for eventType. A "*" entry
// subscribes to everything.
func (w *Webhook) Subscribed(eventType string) bool {
	for _, e := range w.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// Event is one dispatchable occurrence.
type Event struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Repository defines the interface for webhook persistence
type Repository interface {
	Create(ctx context.Context, hook *Webhook) error
	GetByID(ctx context.Context, id string) (*Webhook, error)
	Update(ctx context.Context, hook *Webhook) error
	Delete(ctx context.Context, id string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Webhook, error)
	// ListSubscribed returns the enabled webhooks of a tenant subscribed to
	// an event type.
	ListSubscribed(ctx context.Context, tenantID, eventType string) ([]*Webhook, error)
	// UpdateDeliveryState persists failure_count, enabled and
	// last_triggered_at after a delivery.
	UpdateDeliveryState(ctx context.Context, id string, failureCount int, enabled bool, lastTriggeredAt time.Time) error
}

// NewSecret generates a webhook secret in the whsec_<32 hex> form.
func NewSecret() string {
	return "whsec_" + secrets.RandomHex(16)
}

// ComputeSignature returns the X-Webhook-Signature value for a body:
// "sha256=" + hex(HMAC-SHA256(secret, body)).
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the body.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(ComputeSignature(secret, body)), []byte(signature))
}

func validURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
