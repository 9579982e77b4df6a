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

// Package security records login events and raises alerts from online
// detections: brute force, password spray, new device, impossible travel.
package security

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrAlertNotFound   = errors.New("security alert not found")
	ErrAlreadyResolved = errors.New("security alert is already resolved")
)

// Login event types
const (
	EventLoginSuccess   = "success"
	EventFailedPassword = "failed_password"
)

// Alert types
const (
	AlertBruteForce       = "brute_force"
	AlertSuspiciousIP     = "suspicious_ip"
	AlertNewDevice        = "new_device"
	AlertImpossibleTravel = "impossible_travel"
)

// Alert severities
const (
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// LoginEvent is one authentication attempt, successful or not.
type LoginEvent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Type      string    `json:"type"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is one detection outcome.
type Alert struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id,omitempty"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	Details    map[string]any `json:"details"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventRepository defines the interface for login event persistence
type EventRepository interface {
	Create(ctx context.Context, event *LoginEvent) error
	// CountFailuresByIP counts failed_password events from ip since the
	// cutoff.
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error)
	// CountDistinctFailedAccounts counts distinct emails behind failed
	// attempts from ip since the cutoff.
	CountDistinctFailedAccounts(ctx context.Context, ip string, since time.Time) (int, error)
	// ListRecentSuccesses returns the user's newest successful logins,
	// most recent first, up to limit.
	ListRecentSuccesses(ctx context.Context, userID string, limit int) ([]*LoginEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertRepository defines the interface for alert persistence
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, alert *Alert) error
	ListByTenant(ctx context.Context, tenantID string, unresolvedOnly bool, limit, offset int) ([]*Alert, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Policy tunes the detections. Zero values fall back to defaults.
type Policy struct {
	FailureThreshold int           // failures from one IP before brute_force
	SprayThreshold   int           // distinct accounts from one IP before password_spray
	Window           time.Duration // sliding window for IP-based detections
	DeviceHistory    int           // successful logins consulted for new_device
	TravelWindow     time.Duration // maximum gap for impossible_travel
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 5,
		SprayThreshold:   5,
		Window:           10 * time.Minute,
		DeviceHistory:    100,
		TravelWindow:     time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.SprayThreshold <= 0 {
		p.SprayThreshold = d.SprayThreshold
	}
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.DeviceHistory <= 0 {
		p.DeviceHistory = d.DeviceHistory
	}
	if p.TravelWindow <= 0 {
		p.TravelWindow = d.TravelWindow
	}
	return p
}
