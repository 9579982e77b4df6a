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

package authz

import (
	"context"
	"time"

	"github.com/auth9/auth9/internal/abac"
	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/config"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/tenant"
	"github.com/auth9/auth9/internal/token"
)

// memberGetter is the slice of tenant.Service the engine needs.
type memberGetter interface {
	GetMember(ctx context.Context, tenantID, userID string) (*tenant.Member, error)
}

// policyEvaluator is the slice of abac.Engine the engine needs.
type policyEvaluator interface {
	Evaluate(ctx context.Context, tenantID, action, resourceType string, attrs abac.Context) abac.Decision
}

// Engine runs the three-layer check. A request passes only when the token
// kind is admissible, RBAC grants the action, and the tenant's enforced
// ABAC policy does not deny it.
type Engine struct {
	security    *config.SecurityConfig
	members     memberGetter
	resolver    *rbac.Resolver
	policies    policyEvaluator
	auditLogger audit.Logger
	rules       map[string]Rule
	now         func() time.Time
}

// NewEngine creates an authorization engine over the default action
// registry.
func NewEngine(security *config.SecurityConfig, members memberGetter, resolver *rbac.Resolver, policies policyEvaluator, auditLogger audit.Logger) *Engine {
	return &Engine{
		security:    security,
		members:     members,
		resolver:    resolver,
		policies:    policies,
		auditLogger: auditLogger,
		rules:       DefaultRules(),
		now:         time.Now,
	}
}

// Authorize decides whether the principal may perform action on res. A nil
// return means allowed; otherwise the error is forbidden-kinded and the
// denial is audited.
func (e *Engine) Authorize(ctx context.Context, p Principal, action string, res Resource) error {
	rule, ok := e.rules[action]
	if !ok {
		return e.deny(ctx, p, action, res, "Unknown action")
	}

	// Layer 1: token-type gate.
	if !rule.Accepts(p.TokenKind) {
		return e.deny(ctx, p, action, res, "Token type not permitted for this action")
	}
	isPlatformAdmin := false
	switch p.TokenKind {
	case token.KindIdentity:
		if !e.security.IsPlatformAdmin(p.Email) {
			return e.deny(ctx, p, action, res, "Identity tokens require platform admin")
		}
		isPlatformAdmin = true
	case token.KindTenantAccess:
		if res.TenantID != "" && p.TenantID != res.TenantID {
			msg := rule.CrossTenantMessage
			if msg == "" {
				msg = "Cannot access resources of another tenant"
			}
			return e.deny(ctx, p, action, res, msg)
		}
	}

	// Layer 2: RBAC. Platform admins pass outright.
	if !isPlatformAdmin && res.TenantID != "" {
		allowed, err := e.rbacAllows(ctx, p, rule, res.TenantID)
		if err != nil {
			return err
		}
		if !allowed {
			return e.deny(ctx, p, action, res, "Insufficient role or permissions")
		}
	}

	// Layer 3: ABAC, for tenant-scoped requests by non-operators.
	if !isPlatformAdmin && res.TenantID != "" && e.policies != nil {
		attrs := abac.NewContext(
			abac.Subject{
				UserID:      p.UserID,
				Email:       p.Email,
				TokenType:   p.TokenKind,
				TenantID:    p.TenantID,
				Roles:       p.Roles,
				Permissions: p.Permissions,
			},
			abac.Resource{
				Type:         res.Type,
				TenantID:     res.TenantID,
				TargetUserID: res.TargetUserID,
			},
			action, p.IP, e.now(),
		)
		if e.policies.Evaluate(ctx, res.TenantID, action, res.Type, attrs) == abac.Denied {
			return e.deny(ctx, p, action, res, "Denied by tenant policy")
		}
	}

	return nil
}

// rbacAllows applies layer 2 for a tenant-scoped action.
func (e *Engine) rbacAllows(ctx context.Context, p Principal, rule Rule, tenantID string) (bool, error) {
	if p.TokenKind == KindService {
		// Service clients carry their grants in the token.
		return hasAny(p.Permissions, rule.Permissions), nil
	}

	if rule.Administrative {
		member, err := e.members.GetMember(ctx, tenantID, p.UserID)
		if err == nil && member.IsAdministrative() {
			return true, nil
		}
	}
	if len(rule.Permissions) == 0 {
		return false, nil
	}
	if hasAny(p.Permissions, rule.Permissions) {
		return true, nil
	}

	// The token may predate a grant; consult the live projection.
	resolution, err := e.resolver.Resolve(ctx, p.UserID, tenantID, "")
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "failed to resolve permissions", err)
	}
	for _, code := range rule.Permissions {
		if resolution.HasPermission(code) {
			return true, nil
		}
	}
	return false, nil
}

func hasAny(held, wanted []string) bool {
	for _, w := range wanted {
		for _, h := range held {
			if h == w {
				return true
			}
		}
	}
	return false
}

// deny audits the refusal and returns a forbidden error carrying the
// reason as its user-visible message.
func (e *Engine) deny(ctx context.Context, p Principal, action string, res Resource, reason string) error {
	e.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeAccessDenied,
		TenantID:  res.TenantID,
		ActorID:   p.UserID,
		Resource:  res.Type,
		IPAddress: p.IP,
		UserAgent: p.UserAgent,
		Metadata: map[string]any{
			audit.AttrAction: audit.TypeAccessDenied,
			audit.AttrReason: reason,
			"requested":      action,
			"token_kind":     p.TokenKind,
		},
	})
	return apperr.New(apperr.KindForbidden, reason)
}
