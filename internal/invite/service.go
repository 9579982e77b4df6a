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

package invite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
	"github.com/auth9/auth9/internal/mailer"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/secrets"
	"github.com/auth9/auth9/internal/tenant"
)

// Service provides the invitation lifecycle: create, accept, revoke.
type Service struct {
	repo        Repository
	tenants     *tenant.Service
	roles       *rbac.Service
	hasher      *secrets.Argon2Hasher
	mail        mailer.Mailer
	auditLogger audit.Logger
	portalURL   string
	ttl         time.Duration
}

// NewService creates an invitation service. portalURL is the base of the
// accept link mailed to recipients.
func NewService(repo Repository, tenants *tenant.Service, roles *rbac.Service, hasher *secrets.Argon2Hasher, mail mailer.Mailer, auditLogger audit.Logger, portalURL string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{
		repo:        repo,
		tenants:     tenants,
		roles:       roles,
		hasher:      hasher,
		mail:        mail,
		auditLogger: auditLogger,
		portalURL:   portalURL,
		ttl:         ttl,
	}
}

// Create issues an invitation and mails the accept link. The clear token is
// embedded in the link and returned; only its hash is stored. An existing
// pending invitation for the same email is a conflict.
func (s *Service) Create(ctx context.Context, tenantID, email, invitedBy string, roleIDs []string) (*Invitation, string, error) {
	if email == "" {
		return nil, "", fmt.Errorf("email is required")
	}
	if existing, err := s.repo.GetPendingByEmail(ctx, tenantID, email); err == nil && existing != nil {
		return nil, "", ErrPendingExists
	}

	clearToken := secrets.RandomToken(32)
	tokenHash, err := s.hasher.Hash(clearToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash invitation token: %w", err)
	}

	inv := &Invitation{
		ID:        id.NewUUIDv7(),
		TenantID:  tenantID,
		Email:     email,
		RoleIDs:   roleIDs,
		InvitedBy: invitedBy,
		TokenHash: tokenHash,
		Status:    StatusPending,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, "", err
	}

	link := fmt.Sprintf("%s/invitations/%s/accept?token=%s", s.portalURL, inv.ID, clearToken)
	if err := s.mail.Send(ctx, mailer.Message{
		To:      email,
		Subject: "You have been invited",
		Body:    fmt.Sprintf("Follow this link to join: %s", link),
	}); err != nil {
		// The invitation stands; the operator can resend.
		slog.WarnContext(ctx, "invitation mail failed",
			slog.String("invitation_id", inv.ID), slog.String("error", err.Error()))
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationCreated,
		TenantID: tenantID,
		ActorID:  invitedBy,
		Resource: "invitation",
		Metadata: map[string]any{audit.AttrEmail: email, "role_count": len(roleIDs)},
	})

	return inv, clearToken, nil
}

// Accept redeems an invitation for the authenticated user: verifies the
// token against the stored hash, adds tenant membership and grants the
// invited roles. Accepting twice is a no-op after the first.
func (s *Service) Accept(ctx context.Context, invitationID, clearToken, userID string) (*Invitation, error) {
	inv, err := s.repo.GetByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(clearToken, inv.TokenHash)
	if err != nil || !ok {
		return nil, ErrInvalidToken
	}

	if inv.Status == StatusAccepted {
		return inv, nil
	}
	if inv.IsExpired(time.Now()) {
		_ = s.repo.UpdateStatus(ctx, inv.ID, StatusExpired, nil)
		return nil, ErrInvitationExpired
	}
	if inv.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	member, err := s.tenants.AddMember(ctx, inv.TenantID, userID, tenant.MemberRoleMember)
	if err != nil && err != tenant.ErrMemberExists {
		return nil, err
	}
	if member == nil {
		if member, err = s.tenants.GetMember(ctx, inv.TenantID, userID); err != nil {
			return nil, err
		}
	}

	for _, roleID := range inv.RoleIDs {
		if _, err := s.roles.AssignRole(ctx, member.ID, roleID, userID, inv.TenantID, &inv.InvitedBy); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, inv.ID, StatusAccepted, &now); err != nil {
		return nil, err
	}
	inv.Status = StatusAccepted
	inv.AcceptedAt = &now

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationAccept,
		TenantID: inv.TenantID,
		ActorID:  userID,
		Resource: "invitation",
		Metadata: map[string]any{audit.AttrEmail: inv.Email},
	})

	return inv, nil
}

// Revoke cancels a pending invitation.
func (s *Service) Revoke(ctx context.Context, invitationID, actorID string) error {
	inv, err := s.repo.GetByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.Status != StatusPending {
		return ErrInvalidStatus
	}
	if err := s.repo.UpdateStatus(ctx, inv.ID, StatusRevoked, nil); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationRevoked,
		TenantID: inv.TenantID,
		ActorID:  actorID,
		Resource: "invitation",
		Metadata: map[string]any{audit.AttrEmail: inv.Email},
	})

	return nil
}

// Get retrieves an invitation.
func (s *Service) Get(ctx context.Context, invitationID string) (*Invitation, error) {
	return s.repo.GetByID(ctx, invitationID)
}

// List lists a tenant's invitations with pagination.
func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]*Invitation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByTenant(ctx, tenantID, limit, offset)
}

// ExpireStale marks pending invitations past their deadline as expired.
// Acceptance already handles expiry lazily; this keeps listings honest.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, time.Now())
}
