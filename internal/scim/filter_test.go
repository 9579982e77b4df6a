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

package scim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/identity"
)

func strPtr(s string) *string { return &s }

func sampleUser() *identity.User {
	return &identity.User{
		ID:             "u1",
		Email:          "Ada@Example.com",
		DisplayName:    "Ada Lovelace",
		ScimExternalID: strPtr("ext-42"),
		CreatedAt:      time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

// TestPurpose: Validates the supported comparison operators against user
// attributes, including SCIM's case-insensitive string matching.
// Scope: Unit Test
// Expected: Each operator matches or rejects per its semantics.
// Test Case ID: SCM-01
func TestScim_Filter_Operators(t *testing.T) {
	user := sampleUser()
	now := time.Now()

	cases := []struct {
		filter string
		want   bool
	}{
		{`userName eq "ada@example.com"`, true},
		{`userName eq "someone@else.com"`, false},
		{`userName ne "someone@else.com"`, true},
		{`userName co "example"`, true},
		{`userName sw "ada"`, true},
		{`userName ew ".com"`, true},
		{`displayName pr`, true},
		{`externalId eq "ext-42"`, true},
		{`active eq true`, true},
		{`active eq false`, false},
		{`userName gt "a"`, true},
		{`userName lt "a"`, false},
	}
	for _, tc := range cases {
		expr, err := ParseFilter(tc.filter)
		require.NoError(t, err, tc.filter)
		assert.Equal(t, tc.want, expr.Matches(user, now), tc.filter)
	}
}

// TestPurpose: Validates logical composition: and, or, not and parentheses
// with correct precedence.
// Scope: Unit Test
// Expected: and binds tighter than or; not negates its group.
// Test Case ID: SCM-02
func TestScim_Filter_Logic(t *testing.T) {
	user := sampleUser()
	now := time.Now()

	cases := []struct {
		filter string
		want   bool
	}{
		{`userName sw "ada" and active eq true`, true},
		{`userName sw "zzz" and active eq true`, false},
		{`userName sw "zzz" or displayName co "lovelace"`, true},
		{`not (userName sw "zzz")`, true},
		{`not (active eq true)`, false},
		{`(userName sw "zzz" or displayName pr) and active eq true`, true},
		// or has lower precedence: parses as a or (b and c).
		{`userName sw "ada" or userName sw "zzz" and active eq false`, true},
	}
	for _, tc := range cases {
		expr, err := ParseFilter(tc.filter)
		require.NoError(t, err, tc.filter)
		assert.Equal(t, tc.want, expr.Matches(user, now), tc.filter)
	}
}

// TestPurpose: Validates rejection of malformed and unsupported filters as
// bad requests: unknown attributes, compound value paths, bad operators,
// unterminated literals.
// Scope: Unit Test
// Expected: KindBadRequest for every input.
// Test Case ID: SCM-03
func TestScim_Filter_Rejections(t *testing.T) {
	bad := []string{
		`nickName eq "x"`,
		`emails[type eq "work"].value eq "x"`,
		`userName resembles "x"`,
		`userName eq "unterminated`,
		`userName eq`,
		`and userName eq "x"`,
		`(userName eq "x"`,
	}
	for _, filter := range bad {
		_, err := ParseFilter(filter)
		require.Error(t, err, filter)
		assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err), filter)
	}
}

// TestPurpose: Validates hot-path extraction: single userName/externalId
// equality filters are recognised for indexed lookup, compound ones are
// not.
// Scope: Unit Test
// Expected: Literal extracted only for the single-equality shape.
// Test Case ID: SCM-04
func TestScim_Filter_EqualityLookup(t *testing.T) {
	expr, err := ParseFilter(`userName eq "a@x"`)
	require.NoError(t, err)
	val, ok := EqualityLookup(expr, "userName")
	require.True(t, ok)
	assert.Equal(t, "a@x", val)

	_, ok = EqualityLookup(expr, "externalId")
	assert.False(t, ok)

	expr, err = ParseFilter(`userName eq "a@x" and active eq true`)
	require.NoError(t, err)
	_, ok = EqualityLookup(expr, "userName")
	assert.False(t, ok)

	expr, err = ParseFilter(`userName co "a@x"`)
	require.NoError(t, err)
	_, ok = EqualityLookup(expr, "userName")
	assert.False(t, ok)
}
