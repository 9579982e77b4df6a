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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/audit"
)

// MockRepository is a simple in-memory implementation of Repository
type MockRepository struct {
	sets     map[string]*PolicySet // tenantID -> set
	versions map[string]*Version
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		sets:     make(map[string]*PolicySet),
		versions: make(map[string]*Version),
	}
}

func (m *MockRepository) GetByTenant(ctx context.Context, tenantID string) (*PolicySet, error) {
	set, ok := m.sets[tenantID]
	if !ok {
		return nil, ErrPolicySetNotFound
	}
	return set, nil
}

func (m *MockRepository) Upsert(ctx context.Context, set *PolicySet) error {
	m.sets[set.TenantID] = set
	return nil
}

func (m *MockRepository) CreateVersion(ctx context.Context, version *Version) error {
	m.versions[version.ID] = version
	return nil
}

func (m *MockRepository) GetVersion(ctx context.Context, versionID string) (*Version, error) {
	v, ok := m.versions[versionID]
	if !ok {
		return nil, ErrVersionNotFound
	}
	return v, nil
}

func (m *MockRepository) ListVersions(ctx context.Context, policySetID string) ([]*Version, error) {
	var out []*Version
	for _, v := range m.versions {
		if v.PolicySetID == policySetID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MockRepository) LatestVersionNo(ctx context.Context, policySetID string) (int, error) {
	max := 0
	for _, v := range m.versions {
		if v.PolicySetID == policySetID && v.VersionNo > max {
			max = v.VersionNo
		}
	}
	return max, nil
}

const denyAllDoc = `{"rules": [{"id": "deny-all", "effect": "deny", "actions": ["*"], "resource_types": ["*"], "priority": 1}]}`

// TestPurpose: Validates mode semantics of the evaluation engine: disabled
// and shadow return inconclusive, enforce returns the denial.
// Scope: Unit Test
// Security: Policy enforcement gating
// Expected: Denied only in enforce mode with a published denying document.
// Test Case ID: ABC-08
func TestABAC_Engine_Modes(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, audit.NewSlogLogger())
	engine := NewEngine(repo)
	ctx := context.Background()

	// No policy set at all.
	assert.Equal(t, Inconclusive, engine.Evaluate(ctx, "t1", "user:read", "user", Context{}))

	version, err := svc.SaveVersion(ctx, "t1", denyAllDoc)
	require.NoError(t, err)

	// Saved but not published.
	assert.Equal(t, Inconclusive, engine.Evaluate(ctx, "t1", "user:read", "user", Context{}))

	_, err = svc.Publish(ctx, "t1", version.ID)
	require.NoError(t, err)

	// Published but disabled.
	assert.Equal(t, Inconclusive, engine.Evaluate(ctx, "t1", "user:read", "user", Context{}))

	_, err = svc.SetMode(ctx, "t1", ModeShadow)
	require.NoError(t, err)
	assert.Equal(t, Inconclusive, engine.Evaluate(ctx, "t1", "user:read", "user", Context{}))

	_, err = svc.SetMode(ctx, "t1", ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, Denied, engine.Evaluate(ctx, "t1", "user:read", "user", Context{}))
}

// TestPurpose: Validates fail-open on policy parse errors: a published but
// corrupt document must not block requests.
// Scope: Unit Test
// Security: Availability under operator error
// Expected: Inconclusive for an unparseable published document.
// Test Case ID: ABC-09
func TestABAC_Engine_CorruptDocumentFailsOpen(t *testing.T) {
	repo := NewMockRepository()
	engine := NewEngine(repo)
	ctx := context.Background()

	version := &Version{ID: "v1", PolicySetID: "ps1", VersionNo: 1, PolicyJSON: `{"rules": [`}
	require.NoError(t, repo.CreateVersion(ctx, version))
	require.NoError(t, repo.Upsert(ctx, &PolicySet{
		ID: "ps1", TenantID: "t1", Mode: ModeEnforce, PublishedVersionID: &version.ID,
	}))

	assert.Equal(t, Inconclusive, engine.Evaluate(ctx, "t1", "user:read", "user", Context{}))
}

// TestPurpose: Validates version numbering and that publishing a version
// belonging to another tenant's set is rejected.
// Scope: Unit Test
// Security: Tenant isolation of policy documents
// Expected: Monotonic version numbers; foreign publish returns
// ErrVersionNotFound.
// Test Case ID: ABC-10
func TestABAC_Service_Versioning(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, audit.NewSlogLogger())
	ctx := context.Background()

	v1, err := svc.SaveVersion(ctx, "t1", `{"rules": []}`)
	require.NoError(t, err)
	v2, err := svc.SaveVersion(ctx, "t1", denyAllDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNo)
	assert.Equal(t, 2, v2.VersionNo)

	// Invalid JSON is rejected at save time.
	_, err = svc.SaveVersion(ctx, "t1", `{"rules": [{"effect": "maybe"}]}`)
	assert.Error(t, err)

	other, err := svc.SaveVersion(ctx, "t2", denyAllDoc)
	require.NoError(t, err)

	_, err = svc.Publish(ctx, "t1", other.ID)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}
