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

// Package abac implements attribute-based policy sets: versioned JSON rule
// documents evaluated against a request context, with disabled, shadow and
// enforce modes.
package abac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Policy set modes
const (
	ModeDisabled = "disabled"
	ModeShadow   = "shadow"
	ModeEnforce  = "enforce"
)

// Rule effects
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Domain errors
var (
	ErrPolicySetNotFound = errors.New("policy set not found")
	ErrVersionNotFound   = errors.New("policy version not found")
	ErrInvalidMode       = errors.New("invalid policy mode")
)

// PolicySet is a tenant's ABAC configuration. At most one per tenant.
// Evaluation only happens when PublishedVersionID points at a version.
type PolicySet struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Mode               string    `json:"mode"`
	PublishedVersionID *string   `json:"published_version_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Version is an immutable snapshot of a policy document.
type Version struct {
	ID          string    `json:"id"`
	PolicySetID string    `json:"policy_set_id"`
	VersionNo   int       `json:"version_no"`
	PolicyJSON  string    `json:"policy_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is the parsed policy document.
type Document struct {
	Rules []Rule `json:"rules"`
}

// Rule is one entry in a policy document. Actions and ResourceTypes gate
// whether the rule is considered; "*" matches anything.
type Rule struct {
	ID            string     `json:"id"`
	Effect        string     `json:"effect"`
	Actions       []string   `json:"actions"`
	ResourceTypes []string   `json:"resource_types"`
	Priority      int        `json:"priority"`
	Condition     *Condition `json:"condition,omitempty"`
}

// Condition is a recursive tree. Exactly one of All, Any, Not or the
// predicate fields (Var/Op) is populated.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`

	Var   string `json:"var,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ParseDocument parses and structurally validates a policy document.
func ParseDocument(policyJSON string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(policyJSON), &doc); err != nil {
		return nil, fmt.Errorf("invalid policy document: %w", err)
	}
	for i := range doc.Rules {
		r := &doc.Rules[i]
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return nil, fmt.Errorf("rule %q: invalid effect %q", r.ID, r.Effect)
		}
	}
	return &doc, nil
}

// ValidMode reports whether mode is one of disabled, shadow, enforce.
func ValidMode(mode string) bool {
	return mode == ModeDisabled || mode == ModeShadow || mode == ModeEnforce
}

// Repository defines the interface for policy set persistence
type Repository interface {
	GetByTenant(ctx context.Context, tenantID string) (*PolicySet, error)
	Upsert(ctx context.Context, set *PolicySet) error
	CreateVersion(ctx context.Context, version *Version) error
	GetVersion(ctx context.Context, versionID string) (*Version, error)
	ListVersions(ctx context.Context, policySetID string) ([]*Version, error)
	LatestVersionNo(ctx context.Context, policySetID string) (int, error)
}
