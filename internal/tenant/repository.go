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

import "context"

// Repository defines the interface for tenant storage
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	// Delete removes the tenant and cascades to memberships, services,
	// invitations, webhooks, actions, connectors and policy sets.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}

// MemberRepository defines the interface for tenant membership storage
type MemberRepository interface {
	Add(ctx context.Context, member *Member) error
	Get(ctx context.Context, tenantID, userID string) (*Member, error)
	UpdateRole(ctx context.Context, tenantID, userID, role string) error
	Remove(ctx context.Context, tenantID, userID string) error
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*Member, error)
	ListByUser(ctx context.Context, userID string) ([]*Member, error)
	CountByRole(ctx context.Context, tenantID, role string) (int, error)
}
