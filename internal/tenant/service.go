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

package tenant

import (
	"context"
	"fmt"
	"regexp"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Service provides tenant management business logic
type Service struct {
	repo        Repository
	memberRepo  MemberRepository
	auditLogger audit.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, memberRepo MemberRepository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		memberRepo:  memberRepo,
		auditLogger: auditLogger,
	}
}

// CreateTenant creates a new tenant. Slug uniqueness is enforced by the
// repository; a duplicate surfaces as ErrSlugTaken.
func (s *Service) CreateTenant(ctx context.Context, name, slug string, settings Settings) (*Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	if !slugPattern.MatchString(slug) {
		return nil, ErrInvalidSlug
	}
	if settings.SessionTimeoutSecs <= 0 {
		settings.SessionTimeoutSecs = 3600
	}

	t := &Tenant{
		ID:       id.NewUUIDv7(),
		Name:     name,
		Slug:     slug,
		Status:   StatusActive,
		Settings: settings,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		Resource: "tenant",
		Metadata: map[string]any{"slug": slug},
	})

	return t, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	return s.repo.GetByID(ctx, tenantID)
}

// GetBySlug retrieves a tenant by its unique slug
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// UpdateTenant updates name, logo, status and settings.
func (s *Service) UpdateTenant(ctx context.Context, t *Tenant) (*Tenant, error) {
	existing, err := s.repo.GetByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	existing.Name = t.Name
	existing.LogoURL = t.LogoURL
	if t.Status != "" {
		existing.Status = t.Status
	}
	existing.Settings = t.Settings
	existing.PasswordPolicy = t.PasswordPolicy
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteTenant removes a tenant and all owned rows. confirmed mirrors the
// X-Confirm-Destructive header; without it the call is rejected.
func (s *Service) DeleteTenant(ctx context.Context, tenantID string, confirmed bool) error {
	if !confirmed {
		return ErrTenantNotConfirmed
	}
	if _, err := s.repo.GetByID(ctx, tenantID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tenantID); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantDeleted,
		TenantID: tenantID,
		Resource: "tenant",
	})

	return nil
}

// AddMember adds a user to a tenant with the given administration role.
func (s *Service) AddMember(ctx context.Context, tenantID, userID, role string) (*Member, error) {
	if !ValidMemberRole(role) {
		return nil, ErrInvalidMemberRole
	}
	m := &Member{
		ID:       id.NewUUIDv7(),
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
	}
	if err := s.memberRepo.Add(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMember retrieves a user's membership in a tenant.
func (s *Service) GetMember(ctx context.Context, tenantID, userID string) (*Member, error) {
	return s.memberRepo.Get(ctx, tenantID, userID)
}

// ChangeMemberRole updates a membership role, refusing to demote the last owner.
func (s *Service) ChangeMemberRole(ctx context.Context, tenantID, userID, role string) error {
	if !ValidMemberRole(role) {
		return ErrInvalidMemberRole
	}
	current, err := s.memberRepo.Get(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if current.Role == MemberRoleOwner && role != MemberRoleOwner {
		owners, err := s.memberRepo.CountByRole(ctx, tenantID, MemberRoleOwner)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwnerRemoval
		}
	}
	return s.memberRepo.UpdateRole(ctx, tenantID, userID, role)
}

// RemoveMember removes a user from a tenant, refusing to orphan it.
func (s *Service) RemoveMember(ctx context.Context, tenantID, userID string) error {
	current, err := s.memberRepo.Get(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if current.Role == MemberRoleOwner {
		owners, err := s.memberRepo.CountByRole(ctx, tenantID, MemberRoleOwner)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwnerRemoval
		}
	}
	return s.memberRepo.Remove(ctx, tenantID, userID)
}

// ListMembers lists tenant memberships with pagination.
func (s *Service) ListMembers(ctx context.Context, tenantID string, limit, offset int) ([]*Member, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.memberRepo.ListByTenant(ctx, tenantID, limit, offset)
}

// ListUserTenants lists every tenant a user belongs to.
func (s *Service) ListUserTenants(ctx context.Context, userID string) ([]*Member, error) {
	return s.memberRepo.ListByUser(ctx, userID)
}
