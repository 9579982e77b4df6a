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

package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
)

// Service provides identity-related business logic
type Service struct {
	repo        UserRepository
	auditLogger audit.Logger
}

// NewService creates a new identity service
func NewService(repo UserRepository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		auditLogger: auditLogger,
	}
}

// IdPProfile is the subset of upstream userinfo needed to materialise a user.
type IdPProfile struct {
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Materialize finds the local user for an IdP subject, creating one on the
// first successful login. Email changes at the IdP are mirrored locally.
func (s *Service) Materialize(ctx context.Context, profile IdPProfile) (*User, error) {
	if profile.Subject == "" {
		return nil, fmt.Errorf("idp profile has no subject")
	}
	if !isValidEmail(profile.Email) {
		return nil, ErrInvalidEmail
	}

	user, err := s.repo.GetByExternalIdPID(ctx, profile.Subject)
	if err == nil {
		if user.IsDeactivated(time.Now().UTC()) {
			return nil, ErrUserDeactivated
		}
		changed := false
		if user.Email != profile.Email {
			user.Email = profile.Email
			changed = true
		}
		if profile.DisplayName != "" && user.DisplayName != profile.DisplayName {
			user.DisplayName = profile.DisplayName
			changed = true
		}
		if profile.AvatarURL != "" && user.AvatarURL != profile.AvatarURL {
			user.AvatarURL = profile.AvatarURL
			changed = true
		}
		if changed {
			if err := s.repo.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("failed to update user from idp profile: %w", err)
			}
		}
		return user, nil
	}
	if err != ErrUserNotFound {
		return nil, err
	}

	// A SCIM-provisioned user logs in for the first time: link by email
	// instead of creating a duplicate.
	if existing, err := s.repo.GetByEmail(ctx, profile.Email); err == nil {
		existing.ExternalIdPID = profile.Subject
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to link idp subject: %w", err)
		}
		return existing, nil
	}

	user = &User{
		ID:            id.NewUUIDv7(),
		ExternalIdPID: profile.Subject,
		Email:         profile.Email,
		DisplayName:   profile.DisplayName,
		AvatarURL:     profile.AvatarURL,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  user.ID,
		Resource: "user",
		Metadata: map[string]any{audit.AttrEmail: user.Email},
	})

	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

// GetByEmail retrieves a user by email
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, email)
}

// SearchUsers retrieves users matching query with pagination.
func (s *Service) SearchUsers(ctx context.Context, query string, limit, offset int) ([]*User, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.Search(ctx, query, limit, offset)
}

// UpdateProfile updates mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.DisplayName = displayName
	user.AvatarURL = avatarURL
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user entirely.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserDeleted,
		Resource: "user",
		Metadata: map[string]any{"user_id": userID},
	})
	return nil
}

func isValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && len(email) < 255
}
