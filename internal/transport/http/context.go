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

package http

import (
	"context"

	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/scim"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	scimCtxKey   contextKey = "scim_request_context"
)

// GetPrincipal retrieves the authenticated principal from context.
func GetPrincipal(ctx context.Context) (authz.Principal, bool) {
	p, ok := ctx.Value(principalKey).(authz.Principal)
	return p, ok
}

// GetScimContext retrieves the SCIM request context set by the
// provisioning-token middleware.
func GetScimContext(ctx context.Context) (scim.RequestContext, bool) {
	rc, ok := ctx.Value(scimCtxKey).(scim.RequestContext)
	return rc, ok
}
