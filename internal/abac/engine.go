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

package abac

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
)

// Decision is the engine's contribution to the layered authorization check.
type Decision int

const (
	// Inconclusive means ABAC does not affect the request; the RBAC
	// decision stands. Returned for disabled sets, shadow mode, missing
	// policy sets and unparseable documents.
	Inconclusive Decision = iota
	// Denied overrides an RBAC-allowed request in enforce mode.
	Denied
)

// Subject describes the caller for context building.
type Subject struct {
	UserID      string
	Email       string
	TokenType   string
	TenantID    string
	Roles       []string
	Permissions []string
}

// Resource describes the target for context building.
type Resource struct {
	Type         string
	TenantID     string
	TargetUserID string
}

// NewContext assembles the attribute map evaluated by the engine. ip is
// added as request.ip when non-empty.
func NewContext(sub Subject, res Resource, action, ip string, now time.Time) Context {
	emailDomain := ""
	if at := strings.LastIndexByte(sub.Email, '@'); at >= 0 {
		emailDomain = sub.Email[at+1:]
	}
	now = now.UTC()

	ctx := Context{
		"subject": map[string]any{
			"user_id":      sub.UserID,
			"email":        sub.Email,
			"email_domain": emailDomain,
			"token_type":   sub.TokenType,
			"tenant_id":    sub.TenantID,
			"roles":        toAnySlice(sub.Roles),
			"permissions":  toAnySlice(sub.Permissions),
		},
		"resource": map[string]any{
			"type":           res.Type,
			"tenant_id":      res.TenantID,
			"target_user_id": res.TargetUserID,
		},
		"request": map[string]any{
			"action": action,
		},
		"env": map[string]any{
			"now_utc": now,
			"weekday": int(now.Weekday()),
			"hour":    now.Hour(),
		},
	}
	if ip != "" {
		ctx["request"].(map[string]any)["ip"] = ip
	}
	return ctx
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// Engine evaluates a tenant's published policy against a request.
type Engine struct {
	repo Repository
}

// NewEngine creates an ABAC engine.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Evaluate returns the engine's decision for a tenant-scoped action.
// Unparseable documents demote the set to disabled for this request and are
// logged; authorization then rests on RBAC alone.
func (e *Engine) Evaluate(ctx context.Context, tenantID, action, resourceType string, attrs Context) Decision {
	set, err := e.repo.GetByTenant(ctx, tenantID)
	if err != nil || set.PublishedVersionID == nil || set.Mode == ModeDisabled {
		return Inconclusive
	}

	version, err := e.repo.GetVersion(ctx, *set.PublishedVersionID)
	if err != nil {
		slog.WarnContext(ctx, "published policy version missing",
			slog.String("tenant_id", tenantID), slog.String("version_id", *set.PublishedVersionID))
		return Inconclusive
	}

	doc, err := ParseDocument(version.PolicyJSON)
	if err != nil {
		slog.WarnContext(ctx, "policy document unparseable, treating as disabled",
			slog.String("tenant_id", tenantID),
			slog.Int("version_no", version.VersionNo),
			slog.String("error", err.Error()))
		return Inconclusive
	}

	outcome := Simulate(doc, action, resourceType, attrs)

	if set.Mode == ModeShadow {
		slog.InfoContext(ctx, "abac shadow evaluation",
			slog.String("tenant_id", tenantID),
			slog.String("action", action),
			slog.Bool("would_deny", outcome.Denied),
			slog.Any("matched_allow", outcome.MatchedAllow),
			slog.Any("matched_deny", outcome.MatchedDeny))
		return Inconclusive
	}

	if outcome.Denied {
		return Denied
	}
	return Inconclusive
}

// Service manages policy sets and their versions.
type Service struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewService creates a policy management service.
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// GetPolicySet returns the tenant's policy set, creating a disabled one on
// first access.
func (s *Service) GetPolicySet(ctx context.Context, tenantID string) (*PolicySet, error) {
	set, err := s.repo.GetByTenant(ctx, tenantID)
	if err == nil {
		return set, nil
	}
	if err != ErrPolicySetNotFound {
		return nil, err
	}
	set = &PolicySet{ID: id.NewUUIDv7(), TenantID: tenantID, Mode: ModeDisabled}
	if err := s.repo.Upsert(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// SetMode switches the policy set between disabled, shadow and enforce.
func (s *Service) SetMode(ctx context.Context, tenantID, mode string) (*PolicySet, error) {
	if !ValidMode(mode) {
		return nil, ErrInvalidMode
	}
	set, err := s.GetPolicySet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	set.Mode = mode
	if err := s.repo.Upsert(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// SaveVersion validates and stores a new document version without
// publishing it.
func (s *Service) SaveVersion(ctx context.Context, tenantID, policyJSON string) (*Version, error) {
	if _, err := ParseDocument(policyJSON); err != nil {
		return nil, err
	}
	set, err := s.GetPolicySet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.LatestVersionNo(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	version := &Version{
		ID:          id.NewUUIDv7(),
		PolicySetID: set.ID,
		VersionNo:   latest + 1,
		PolicyJSON:  policyJSON,
	}
	if err := s.repo.CreateVersion(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// Publish makes a stored version the active one.
func (s *Service) Publish(ctx context.Context, tenantID, versionID string) (*PolicySet, error) {
	set, err := s.GetPolicySet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	version, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.PolicySetID != set.ID {
		return nil, ErrVersionNotFound
	}
	set.PublishedVersionID = &version.ID
	if err := s.repo.Upsert(ctx, set); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePolicyPublished,
		TenantID: tenantID,
		Resource: "abac_policy_set",
		Metadata: map[string]any{"version_no": version.VersionNo, "version_id": version.ID},
	})

	return set, nil
}

// ListVersions lists a tenant's stored document versions.
func (s *Service) ListVersions(ctx context.Context, tenantID string) ([]*Version, error) {
	set, err := s.GetPolicySet(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, set.ID)
}
