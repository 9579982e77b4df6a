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

package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
)

// alertEmitter fans security.alert events out; satisfied by
// webhook.Dispatcher.
type alertEmitter interface {
	Emit(ctx context.Context, tenantID, eventType string, data map[string]any)
}

// Service records login events, runs the detections in order, and manages
// the resulting alerts.
type Service struct {
	events      EventRepository
	alerts      AlertRepository
	emitter     alertEmitter
	auditLogger audit.Logger
	policy      Policy
	now         func() time.Time
}

// NewService creates a detection service. A zero policy uses the defaults.
func NewService(events EventRepository, alerts AlertRepository, emitter alertEmitter, auditLogger audit.Logger, policy Policy) *Service {
	return &Service{
		events:      events,
		alerts:      alerts,
		emitter:     emitter,
		auditLogger: auditLogger,
		policy:      policy.withDefaults(),
		now:         time.Now,
	}
}

// RecordLogin persists the event and runs the detections against the state
// preceding it. Detection failures never fail the login path. The returned
// alerts are the ones this event raised, in detection order.
func (s *Service) RecordLogin(ctx context.Context, event *LoginEvent) ([]*Alert, error) {
	if event.ID == "" {
		event.ID = id.NewUUIDv7()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, err
	}
	// Window queries now include the event itself; history-based checks
	// skip its own row.
	return s.analyze(ctx, event), nil
}

// analyze runs brute-force, spray, new-device and impossible-travel, in
// that order.
func (s *Service) analyze(ctx context.Context, event *LoginEvent) []*Alert {
	var raised []*Alert
	add := func(a *Alert) {
		if a != nil {
			raised = append(raised, a)
		}
	}

	if event.Type == EventFailedPassword && event.IPAddress != "" {
		add(s.detectBruteForce(ctx, event))
		add(s.detectSpray(ctx, event))
	}
	if event.Type == EventLoginSuccess && event.UserID != "" {
		history, err := s.events.ListRecentSuccesses(ctx, event.UserID, s.policy.DeviceHistory)
		if err != nil {
			slog.WarnContext(ctx, "failed to load login history",
				slog.String("user_id", event.UserID), slog.String("error", err.Error()))
			return raised
		}
		add(s.detectNewDevice(ctx, event, history))
		add(s.detectImpossibleTravel(ctx, event, history))
	}
	return raised
}

func (s *Service) detectBruteForce(ctx context.Context, event *LoginEvent) *Alert {
	since := event.CreatedAt.Add(-s.policy.Window)
	total, err := s.events.CountFailuresByIP(ctx, event.IPAddress, since)
	if err != nil {
		slog.WarnContext(ctx, "brute force check failed", slog.String("error", err.Error()))
		return nil
	}
	if total < s.policy.FailureThreshold {
		return nil
	}
	return s.raise(ctx, event, AlertBruteForce, SeverityHigh, map[string]any{
		"ip_address":      event.IPAddress,
		"failed_attempts": total,
		"window_minutes":  int(s.policy.Window.Minutes()),
	})
}

func (s *Service) detectSpray(ctx context.Context, event *LoginEvent) *Alert {
	since := event.CreatedAt.Add(-s.policy.Window)
	total, err := s.events.CountDistinctFailedAccounts(ctx, event.IPAddress, since)
	if err != nil {
		slog.WarnContext(ctx, "password spray check failed", slog.String("error", err.Error()))
		return nil
	}
	if total < s.policy.SprayThreshold {
		return nil
	}
	return s.raise(ctx, event, AlertSuspiciousIP, SeverityCritical, map[string]any{
		"ip_address":        event.IPAddress,
		"distinct_accounts": total,
		"window_minutes":    int(s.policy.Window.Minutes()),
		"reason":            "password_spray",
	})
}

func (s *Service) detectNewDevice(ctx context.Context, event *LoginEvent, history []*LoginEvent) *Alert {
	if event.UserAgent == "" {
		return nil
	}
	seen := false
	known := false
	for _, prev := range history {
		if prev.ID == event.ID {
			continue
		}
		seen = true
		if prev.UserAgent == event.UserAgent {
			known = true
		}
	}
	// First login from any device is not an alert.
	if !seen || known {
		return nil
	}
	return s.raise(ctx, event, AlertNewDevice, SeverityMedium, map[string]any{
		"user_agent": event.UserAgent,
		"ip_address": event.IPAddress,
	})
}

func (s *Service) detectImpossibleTravel(ctx context.Context, event *LoginEvent, history []*LoginEvent) *Alert {
	if event.Location == "" {
		return nil
	}
	var prev *LoginEvent
	for _, h := range history {
		if h.ID != event.ID {
			prev = h
			break
		}
	}
	if prev == nil || prev.Location == "" || prev.Location == event.Location {
		return nil
	}
	if event.CreatedAt.Sub(prev.CreatedAt) >= s.policy.TravelWindow {
		return nil
	}
	return s.raise(ctx, event, AlertImpossibleTravel, SeverityHigh, map[string]any{
		"previous_location": prev.Location,
		"current_location":  event.Location,
		"minutes_apart":     int(event.CreatedAt.Sub(prev.CreatedAt).Minutes()),
	})
}

// raise persists the alert and emits the security.alert webhook event.
func (s *Service) raise(ctx context.Context, event *LoginEvent, alertType, severity string, details map[string]any) *Alert {
	alert := &Alert{
		ID:        id.NewUUIDv7(),
		TenantID:  event.TenantID,
		UserID:    event.UserID,
		Type:      alertType,
		Severity:  severity,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		slog.ErrorContext(ctx, "failed to persist security alert",
			slog.String("alert_type", alertType), slog.String("error", err.Error()))
		return nil
	}

	if s.emitter != nil {
		data := map[string]any{
			"alert_id":   alert.ID,
			"alert_type": alert.Type,
			"severity":   alert.Severity,
			"details":    alert.Details,
		}
		if alert.UserID != "" {
			data["user_id"] = alert.UserID
		}
		s.emitter.Emit(ctx, alert.TenantID, "security.alert", data)
	}
	return alert
}

// GetAlert retrieves one alert.
func (s *Service) GetAlert(ctx context.Context, alertID string) (*Alert, error) {
	return s.alerts.GetByID(ctx, alertID)
}

// ListAlerts lists a tenant's alerts, optionally only unresolved ones.
func (s *Service) ListAlerts(ctx context.Context, tenantID string, unresolvedOnly bool, limit, offset int) ([]*Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.alerts.ListByTenant(ctx, tenantID, unresolvedOnly, limit, offset)
}

// ResolveAlert marks an alert handled.
func (s *Service) ResolveAlert(ctx context.Context, alertID, resolvedBy string) (*Alert, error) {
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.ResolvedAt != nil {
		return nil, ErrAlreadyResolved
	}
	now := s.now().UTC()
	alert.ResolvedAt = &now
	alert.ResolvedBy = resolvedBy
	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAlertResolved,
		TenantID: alert.TenantID,
		ActorID:  resolvedBy,
		Resource: "security_alert",
		Metadata: map[string]any{"alert_id": alert.ID, "alert_type": alert.Type},
	})
	return alert, nil
}

// PurgeAlerts deletes alerts older than the retention cutoff.
func (s *Service) PurgeAlerts(ctx context.Context, retention time.Duration) (int64, error) {
	return s.alerts.DeleteOlderThan(ctx, s.now().UTC().Add(-retention))
}

// PurgeLoginEvents deletes login events older than the retention cutoff.
func (s *Service) PurgeLoginEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return s.events.DeleteOlderThan(ctx, s.now().UTC().Add(-retention))
}
