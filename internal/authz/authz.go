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

// Package authz decides protected-action requests through three stacked
// layers: a token-type gate, RBAC, and the tenant's ABAC policy.
package authz

import (
	"github.com/auth9/auth9/internal/token"
)

// Principal is the authenticated caller as established by the transport
// layer from a verified token.
type Principal struct {
	UserID      string
	Email       string
	TokenKind   string // token.KindIdentity, token.KindTenantAccess or "service"
	TenantID    string // set for tenant-access tokens
	ClientID    string
	Roles       []string
	Permissions []string
	IP          string
	UserAgent   string
}

// KindService marks a token obtained by a service client on its own
// behalf rather than by exchange for a user.
const KindService = "service"

// Resource is the target of a protected action.
type Resource struct {
	Type         string
	TenantID     string
	TargetUserID string
}

// Rule declares what a protected action accepts and requires.
type Rule struct {
	// TokenKinds lists the token kinds the action accepts. Identity
	// tokens additionally require the caller to be a platform admin.
	TokenKinds []string
	// Administrative actions pass RBAC for tenant owners and admins.
	Administrative bool
	// Permissions is the any-of permission set that passes RBAC for
	// non-administrative members.
	Permissions []string
	// CrossTenantMessage is the 403 reason when a tenant token targets a
	// different tenant.
	CrossTenantMessage string
}

// Accepts reports whether the rule admits the token kind at all.
func (r Rule) Accepts(kind string) bool {
	for _, k := range r.TokenKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Protected action names. Transport handlers authorize against these.
const (
	ActionInvitationCreate = "invitation:create"
	ActionInvitationRevoke = "invitation:revoke"
	ActionInvitationList   = "invitation:list"
	ActionMemberAdd        = "member:add"
	ActionMemberRemove     = "member:remove"
	ActionMemberUpdate     = "member:update"
	ActionServiceRead      = "service:read"
	ActionServiceWrite     = "service:write"
	ActionRoleWrite        = "role:write"
	ActionRoleAssign       = "role:assign"
	ActionRoleRevoke       = "role:revoke"
	ActionPolicyWrite      = "policy:write"
	ActionActionWrite      = "action:write"
	ActionWebhookWrite     = "webhook:write"
	ActionTenantCreate     = "tenant:create"
	ActionTenantList       = "tenant:list"
	ActionTenantRead       = "tenant:read"
	ActionTenantWrite      = "tenant:write"
	ActionTenantDelete     = "tenant:delete"
	ActionUserRead         = "user:read"
	ActionUserWrite        = "user:write"
	ActionUserDelete       = "user:delete"
	ActionAlertManage      = "alert:manage"
	ActionSsoWrite         = "sso:write"
	ActionPlatformWrite    = "platform:write"
)

// userAndTenant admits identity (platform admin) and tenant-access
// tokens; service clients cannot act here.
var userAndTenant = []string{token.KindIdentity, token.KindTenantAccess}

// anyCaller additionally admits service-client tokens.
var anyCaller = []string{token.KindIdentity, token.KindTenantAccess, KindService}

// DefaultRules is the action registry. Service clients are shut out of
// invitation, role and membership management entirely.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionInvitationCreate: {
			TokenKinds:         userAndTenant,
			Administrative:     true,
			Permissions:        []string{"invitation:write"},
			CrossTenantMessage: "Cannot create invitations for another tenant",
		},
		ActionInvitationRevoke: {
			TokenKinds:         userAndTenant,
			Administrative:     true,
			Permissions:        []string{"invitation:write"},
			CrossTenantMessage: "Cannot revoke invitations of another tenant",
		},
		ActionInvitationList: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"invitation:read", "invitation:write"},
		},
		ActionMemberAdd: {
			TokenKinds:     userAndTenant,
			Administrative: true,
		},
		ActionMemberRemove: {
			TokenKinds:     userAndTenant,
			Administrative: true,
		},
		ActionMemberUpdate: {
			TokenKinds:     userAndTenant,
			Administrative: true,
		},
		ActionServiceRead: {
			TokenKinds:     anyCaller,
			Administrative: true,
			Permissions:    []string{"service:read", "service:write"},
		},
		ActionServiceWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"service:write"},
		},
		ActionRoleWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"rbac:write", "role:write"},
		},
		ActionRoleAssign: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"rbac:write", "role:write"},
		},
		ActionRoleRevoke: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"rbac:write", "role:write"},
		},
		ActionPolicyWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"policy:write"},
		},
		ActionActionWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"action:write"},
		},
		ActionWebhookWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"webhook:write"},
		},
		ActionTenantCreate: {
			// Tenants are born at the platform level.
			TokenKinds: []string{token.KindIdentity},
		},
		ActionTenantList: {
			TokenKinds: []string{token.KindIdentity},
		},
		ActionTenantRead: {
			TokenKinds:     anyCaller,
			Administrative: true,
			Permissions:    []string{"tenant:read"},
		},
		ActionTenantWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
		},
		ActionTenantDelete: {
			// Destroying a tenant is reserved for platform admins.
			TokenKinds: []string{token.KindIdentity},
		},
		ActionUserRead: {
			TokenKinds:     anyCaller,
			Administrative: true,
			Permissions:    []string{"user:read", "user:write"},
		},
		ActionUserWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"user:write"},
		},
		ActionUserDelete: {
			// Erasing an account is platform-level; tenants can only
			// remove the membership.
			TokenKinds: []string{token.KindIdentity},
		},
		ActionAlertManage: {
			TokenKinds:     userAndTenant,
			Administrative: true,
			Permissions:    []string{"security:write"},
		},
		ActionSsoWrite: {
			TokenKinds:     userAndTenant,
			Administrative: true,
		},
		ActionPlatformWrite: {
			// Mutations on platform-owned resources, admins only.
			TokenKinds: []string{token.KindIdentity},
		},
	}
}
