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

package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/auth9/auth9/internal/cache"
)

// Resolver computes the effective roles and permissions of a user within a
// tenant, expanding role inheritance and memoising the projection in a
// short-TTL cache. Stale reads are tolerated; grant changes invalidate
// best-effort.
type Resolver struct {
	grants GrantRepository
	roles  RoleRepository
	cache  cache.Cache
	ttl    time.Duration
}

// NewResolver creates a resolver. ttl bounds cache staleness after a role
// change that missed invalidation.
func NewResolver(grants GrantRepository, roles RoleRepository, c cache.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{grants: grants, roles: roles, cache: c, ttl: ttl}
}

func cacheKey(userID, tenantID, serviceID string) string {
	if serviceID == "" {
		return fmt.Sprintf("rbac:%s:%s", userID, tenantID)
	}
	return fmt.Sprintf("rbac:%s:%s:%s", userID, tenantID, serviceID)
}

// Resolve returns the user's effective projection in the tenant. serviceID
// restricts the projection to one service when non-empty; pass "" for the
// full cross-service view.
func (r *Resolver) Resolve(ctx context.Context, userID, tenantID, serviceID string) (*Resolution, error) {
	key := cacheKey(userID, tenantID, serviceID)
	if data, err := r.cache.Get(ctx, key); err == nil {
		var res Resolution
		if err := json.Unmarshal(data, &res); err == nil {
			return &res, nil
		}
		// corrupt entry, drop it and fall through to the database
		_ = r.cache.Delete(ctx, key)
	}

	res, err := r.resolveFromStore(ctx, userID, tenantID, serviceID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(res); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			slog.WarnContext(ctx, "rbac cache write failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// resolveFromStore queries the direct grants and expands each held role's
// ancestor chain, deduplicating permission codes.
func (r *Resolver) resolveFromStore(ctx context.Context, userID, tenantID, serviceID string) (*Resolution, error) {
	direct, err := r.grants.ResolveUserRoles(ctx, userID, tenantID, serviceID)
	if err != nil {
		return nil, err
	}

	permSet := make(map[string]struct{}, len(direct.Permissions))
	for _, code := range direct.Permissions {
		permSet[code] = struct{}{}
	}

	// Inherited permissions: walk each role's parent chain. The walk is
	// depth-limited; data that loops is treated as exhausted.
	for _, held := range direct.Roles {
		role, err := r.roles.GetByID(ctx, held.ID)
		if err != nil {
			return nil, err
		}
		current := role.ParentRoleID
		for depth := 0; current != nil && depth < maxInheritanceDepth; depth++ {
			parent, err := r.roles.GetByID(ctx, *current)
			if err != nil {
				return nil, err
			}
			perms, err := r.roles.ListPermissions(ctx, parent.ID)
			if err != nil {
				return nil, err
			}
			for _, p := range perms {
				permSet[p.Code] = struct{}{}
			}
			current = parent.ParentRoleID
		}
	}

	permissions := make([]string, 0, len(permSet))
	for code := range permSet {
		permissions = append(permissions, code)
	}
	sort.Strings(permissions)

	return &Resolution{Roles: direct.Roles, Permissions: permissions}, nil
}

// Invalidate drops the cached projections for a user in a tenant. Failures
// are logged and ignored; the TTL bounds staleness.
func (r *Resolver) Invalidate(ctx context.Context, userID, tenantID, serviceID string) {
	keys := []string{cacheKey(userID, tenantID, "")}
	if serviceID != "" {
		keys = append(keys, cacheKey(userID, tenantID, serviceID))
	}
	for _, key := range keys {
		if err := r.cache.Delete(ctx, key); err != nil {
			slog.WarnContext(ctx, "rbac cache invalidation failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}
