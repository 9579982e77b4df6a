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
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Context is the attribute map a request is evaluated against. Keys are
// dot paths such as "subject.roles" or "env.hour"; nesting via maps is also
// resolved.
type Context map[string]any

// Outcome is the result of evaluating a document against a context.
type Outcome struct {
	Denied       bool     `json:"denied"`
	MatchedAllow []string `json:"matched_allow"`
	MatchedDeny  []string `json:"matched_deny"`
}

// Simulate evaluates a policy document against a context without consulting
// any stored state. Rules whose actions/resource_types cover the request are
// considered in descending priority; any matching deny denies, and a
// document that declares allow rules denies when none of them matched.
func Simulate(doc *Document, action, resourceType string, ctx Context) Outcome {
	rules := make([]Rule, len(doc.Rules))
	copy(rules, doc.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	out := Outcome{MatchedAllow: []string{}, MatchedDeny: []string{}}
	hasAllowRule := false

	for _, rule := range rules {
		if rule.Effect == EffectAllow {
			hasAllowRule = true
		}
		if !matchList(rule.Actions, action) || !matchList(rule.ResourceTypes, resourceType) {
			continue
		}
		if rule.Condition != nil && !evalCondition(rule.Condition, ctx) {
			continue
		}
		switch rule.Effect {
		case EffectAllow:
			out.MatchedAllow = append(out.MatchedAllow, rule.ID)
		case EffectDeny:
			out.MatchedDeny = append(out.MatchedDeny, rule.ID)
		}
	}

	if len(out.MatchedDeny) > 0 {
		out.Denied = true
	} else if hasAllowRule && len(out.MatchedAllow) == 0 {
		out.Denied = true
	}
	return out
}

func matchList(list []string, value string) bool {
	for _, entry := range list {
		if entry == "*" || entry == value {
			return true
		}
	}
	return false
}

func evalCondition(c *Condition, ctx Context) bool {
	switch {
	case len(c.All) > 0:
		for i := range c.All {
			if !evalCondition(&c.All[i], ctx) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for i := range c.Any {
			if evalCondition(&c.Any[i], ctx) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !evalCondition(c.Not, ctx)
	default:
		return evalPredicate(c, ctx)
	}
}

// lookup resolves a dot path. A flat key wins; otherwise the path is walked
// through nested maps.
func lookup(ctx Context, path string) (any, bool) {
	if v, ok := ctx[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var current any = map[string]any(ctx)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			if c, ok2 := current.(Context); ok2 {
				m = map[string]any(c)
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func evalPredicate(c *Condition, ctx Context) bool {
	actual, present := lookup(ctx, c.Var)

	switch c.Op {
	case "exists":
		return present
	case "eq":
		return present && looseEqual(actual, c.Value)
	case "neq":
		return present && !looseEqual(actual, c.Value)
	case "contains":
		return present && contains(actual, c.Value)
	case "starts_with":
		s, ok1 := asString(actual)
		prefix, ok2 := asString(c.Value)
		return present && ok1 && ok2 && strings.HasPrefix(s, prefix)
	case "in":
		return present && memberOf(c.Value, actual)
	case "not_in":
		return present && !memberOf(c.Value, actual)
	case "gt", "gte", "lt", "lte":
		a, ok1 := asFloat(actual)
		b, ok2 := asFloat(c.Value)
		if !present || !ok1 || !ok2 {
			return false
		}
		switch c.Op {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "ip_in_cidr":
		return present && ipInCIDR(actual, c.Value)
	case "time_between":
		return present && timeBetween(actual, c.Value)
	default:
		// Unknown operator never matches.
		return false
	}
}

// looseEqual compares across JSON's number/string representations.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	as, aok := asString(a)
	bs, bok := asString(b)
	if aok && bok {
		return as == bs
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return false
}

// contains matches a list element or a substring depending on the operand.
func contains(actual, value any) bool {
	switch list := actual.(type) {
	case []any:
		for _, item := range list {
			if looseEqual(item, value) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range list {
			if looseEqual(item, value) {
				return true
			}
		}
		return false
	}
	s, ok1 := asString(actual)
	sub, ok2 := asString(value)
	return ok1 && ok2 && strings.Contains(s, sub)
}

// memberOf reports whether needle is an element of the rule-supplied list.
func memberOf(list, needle any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if looseEqual(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if looseEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// ipInCIDR checks the context IP against one CIDR or a list of CIDRs.
// Malformed addresses or prefixes (including an IPv4 prefix length over 32)
// evaluate to false rather than erroring out.
func ipInCIDR(actual, value any) bool {
	ipStr, ok := asString(actual)
	if !ok {
		return false
	}
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}

	var cidrs []string
	switch v := value.(type) {
	case string:
		cidrs = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := asString(item); ok {
				cidrs = append(cidrs, s)
			}
		}
	case []string:
		cidrs = v
	}

	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Addr().Is4() && prefix.Bits() > 32 {
			continue
		}
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// timeBetween checks a clock value against an "HH:MM-HH:MM" window.
// Both endpoints are inclusive and the window may wrap midnight.
func timeBetween(actual, value any) bool {
	window, ok := asString(value)
	if !ok {
		return false
	}
	bounds := strings.SplitN(window, "-", 2)
	if len(bounds) != 2 {
		return false
	}
	start, ok1 := parseMinutes(strings.TrimSpace(bounds[0]))
	end, ok2 := parseMinutes(strings.TrimSpace(bounds[1]))
	if !ok1 || !ok2 {
		return false
	}

	now, ok := clockMinutes(actual)
	if !ok {
		return false
	}

	if start <= end {
		return now >= start && now <= end
	}
	// Wraps midnight, e.g. 22:00-06:00.
	return now >= start || now <= end
}

func parseMinutes(hhmm string) (int, bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// clockMinutes extracts minutes-of-day from a time.Time, an RFC 3339 string,
// or an "HH:MM" string.
func clockMinutes(v any) (int, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Hour()*60 + t.UTC().Minute(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC().Hour()*60 + parsed.UTC().Minute(), true
		}
		if m, ok := parseMinutes(t); ok {
			return m, true
		}
	}
	return 0, false
}
