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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"code.dny.dev/ssrf"
	"github.com/cenkalti/backoff/v4"

	"github.com/auth9/auth9/internal/audit"
)

const (
	// attemptTimeout bounds one delivery attempt.
	attemptTimeout = 30 * time.Second
	// maxAttempts is the delivery budget per event.
	maxAttempts = 3
	// disableThreshold flips a webhook off after this many consecutive
	// failures.
	disableThreshold = 10
	// retryBase is the first retry delay; doubling yields 2^attempt
	// seconds.
	retryBase = 2 * time.Second
)

// Dispatcher delivers events. The transport refuses loopback, private,
// link-local and metadata addresses at dial time, and never follows
// redirects.
type Dispatcher struct {
	repo        Repository
	auditLogger audit.Logger
	client      *http.Client
	retryBase   time.Duration
}

// NewDispatcher creates a dispatcher with the SSRF-guarded transport.
func NewDispatcher(repo Repository, auditLogger audit.Logger) *Dispatcher {
	guardian := ssrf.New()
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: guardian.Safe,
	}
	transport := &http.Transport{
		DialContext:       dialer.DialContext,
		ForceAttemptHTTP2: true,
	}
	return &Dispatcher{
		repo:        repo,
		auditLogger: auditLogger,
		retryBase:   retryBase,
		client: &http.Client{
			Timeout:   attemptTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Emit fans an event out to every enabled subscribed webhook of the tenant.
// Deliveries run concurrently across webhooks; retries for one webhook are
// sequential. Emit returns once all deliveries conclude.
func (d *Dispatcher) Emit(ctx context.Context, tenantID, eventType string, data map[string]any) {
	hooks, err := d.repo.ListSubscribed(ctx, tenantID, eventType)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list webhooks",
			slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		return
	}
	if len(hooks) == 0 {
		return
	}

	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}

	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(h *Webhook) {
			defer wg.Done()
			if _, err := d.Deliver(ctx, h, event); err != nil {
				slog.WarnContext(ctx, "webhook delivery failed",
					slog.String("webhook_id", h.ID),
					slog.String("event_type", eventType),
					slog.String("error", err.Error()))
			}
		}(hook)
	}
	wg.Wait()
}

// DeliveryResult describes the final attempt of a delivery.
type DeliveryResult struct {
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Deliver posts one event to one webhook with retries, then records the
// delivery outcome on the webhook row. The secret is captured before the
// first attempt; a concurrent rotation does not change an in-flight
// delivery's signature.
func (d *Dispatcher) Deliver(ctx context.Context, hook *Webhook, event Event) (*DeliveryResult, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	secret := hook.Secret

	var result *DeliveryResult

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     d.retryBase,
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxInterval:         time.Minute,
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}, maxAttempts-1), ctx)

	attemptErr := backoff.Retry(func() error {
		r := d.attempt(ctx, hook.URL, secret, event, body)
		result = r
		if !r.Success {
			return fmt.Errorf("attempt failed: status=%d %s", r.StatusCode, r.Error)
		}
		return nil
	}, policy)

	d.recordOutcome(ctx, hook, attemptErr == nil)

	if attemptErr != nil {
		return result, attemptErr
	}
	return result, nil
}

// attempt performs a single POST.
func (d *Dispatcher) attempt(ctx context.Context, url, secret string, event Event, body []byte) *DeliveryResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.Format(time.RFC3339))
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", ComputeSignature(secret, body))
	}

	started := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		return &DeliveryResult{Error: err.Error(), ResponseTimeMS: elapsed}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	result := &DeliveryResult{
		StatusCode:     resp.StatusCode,
		ResponseBody:   string(respBody),
		ResponseTimeMS: elapsed,
	}
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Success {
		result.Error = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	}
	return result
}

// recordOutcome updates failure_count and auto-disables at the threshold.
func (d *Dispatcher) recordOutcome(ctx context.Context, hook *Webhook, success bool) {
	now := time.Now().UTC()
	if success {
		hook.FailureCount = 0
	} else {
		hook.FailureCount++
	}
	enabled := hook.Enabled
	if hook.FailureCount >= disableThreshold && enabled {
		enabled = false
		hook.Enabled = false
		d.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeWebhookDisabled,
			TenantID: hook.TenantID,
			Resource: "webhook",
			Metadata: map[string]any{
				"webhook_id":    hook.ID,
				"failure_count": hook.FailureCount,
			},
		})
	}
	hook.LastTriggeredAt = &now

	if err := d.repo.UpdateDeliveryState(ctx, hook.ID, hook.FailureCount, enabled, now); err != nil {
		slog.WarnContext(ctx, "failed to update webhook delivery state",
			slog.String("webhook_id", hook.ID), slog.String("error", err.Error()))
	}
}

// SendTest dispatches a synthetic test event to one webhook and returns the
// delivery details. Failure counts update exactly as for production events.
func (d *Dispatcher) SendTest(ctx context.Context, hook *Webhook) *DeliveryResult {
	event := Event{
		Type:      "test",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"message": "test delivery"},
	}
	result, _ := d.Deliver(ctx, hook, event)
	if result == nil {
		result = &DeliveryResult{Error: "delivery did not produce a result"}
	}
	return result
}
