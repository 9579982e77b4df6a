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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/identity"
)

// Comparison operators of the supported filter subset.
const (
	OpEq = "eq"
	OpNe = "ne"
	OpCo = "co"
	OpSw = "sw"
	OpEw = "ew"
	OpPr = "pr"
	OpGt = "gt"
	OpGe = "ge"
	OpLt = "lt"
	OpLe = "le"
)

// Expr is a parsed filter node.
type Expr interface {
	// Matches evaluates the node against a user.
	Matches(u *identity.User, now time.Time) bool
}

// Compare is `attr op literal` (or `attr pr`).
type Compare struct {
	Attr  string
	Op    string
	Value any
}

// Logical joins two subtrees with and/or.
type Logical struct {
	Op    string // "and" or "or"
	Left  Expr
	Right Expr
}

// Not negates a subtree.
type Not struct {
	Expr Expr
}

// ParseFilter parses the supported SCIM filter subset. Unknown attributes
// and malformed input surface as bad requests.
func ParseFilter(input string) (Expr, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, badFilter("unexpected trailing input %q", p.peek().text)
	}
	return expr, nil
}

// EqualityLookup reports whether the filter is a single equality on attr,
// returning the compared literal. The list path uses this to route
// userName/externalId lookups to indexed reads.
func EqualityLookup(expr Expr, attr string) (string, bool) {
	cmp, ok := expr.(*Compare)
	if !ok || cmp.Op != OpEq || cmp.Attr != attr {
		return "", false
	}
	s, ok := cmp.Value.(string)
	return s, ok
}

func badFilter(format string, args ...any) error {
	return apperr.Newf(apperr.KindBadRequest, "invalid filter: "+format, args...)
}

// filterAttrs maps SCIM attribute names (lowercased) to canonical names.
// Anything absent is unsupported.
var filterAttrs = map[string]string{
	"username":     "userName",
	"externalid":   "externalId",
	"displayname":  "displayName",
	"active":       "active",
	"id":           "id",
	"meta.created": "meta.created",
}

// --- lexer ---

type tokenKind int

const (
	tokAttr tokenKind = iota
	tokString
	tokNumber
	tokBool
	tokLParen
	tokRParen
	tokEOF
)

type tok struct {
	kind tokenKind
	text string
}

func lex(input string) ([]tok, error) {
	var toks []tok
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, tok{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, tok{tokRParen, ")"})
			i++
		case c == '"':
			j := i + 1
			var sb strings.Builder
			for j < len(input) && input[j] != '"' {
				if input[j] == '\\' && j+1 < len(input) {
					j++
				}
				sb.WriteByte(input[j])
				j++
			}
			if j >= len(input) {
				return nil, badFilter("unterminated string literal")
			}
			toks = append(toks, tok{tokString, sb.String()})
			i = j + 1
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(input) && (input[j] == '.' || (input[j] >= '0' && input[j] <= '9')) {
				j++
			}
			toks = append(toks, tok{tokNumber, input[i:j]})
			i = j
		default:
			j := i
			for j < len(input) && !strings.ContainsRune(" \t()\"", rune(input[j])) {
				j++
			}
			word := input[i:j]
			if word == "" {
				return nil, badFilter("unexpected character %q", string(c))
			}
			switch strings.ToLower(word) {
			case "true", "false":
				toks = append(toks, tok{tokBool, strings.ToLower(word)})
			default:
				toks = append(toks, tok{tokAttr, word})
			}
			i = j
		}
	}
	toks = append(toks, tok{tokEOF, ""})
	return toks, nil
}

// --- parser ---

type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek() tok { return p.toks[p.pos] }
func (p *parser) next() tok { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) eof() bool { return p.peek().kind == tokEOF }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAttr && strings.EqualFold(p.peek().text, "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAttr && strings.EqualFold(p.peek().text, "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	switch {
	case t.kind == tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, badFilter("missing closing parenthesis")
		}
		return inner, nil
	case t.kind == tokAttr && strings.EqualFold(t.text, "not"):
		p.next()
		if p.next().kind != tokLParen {
			return nil, badFilter("not requires a parenthesised expression")
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, badFilter("missing closing parenthesis after not")
		}
		return &Not{Expr: inner}, nil
	case t.kind == tokAttr:
		return p.parseCompare()
	default:
		return nil, badFilter("expected attribute, got %q", t.text)
	}
}

func (p *parser) parseCompare() (Expr, error) {
	attrTok := p.next()
	attr, ok := filterAttrs[strings.ToLower(attrTok.text)]
	if !ok {
		return nil, badFilter("unsupported attribute %q", attrTok.text)
	}

	opTok := p.next()
	if opTok.kind != tokAttr {
		return nil, badFilter("expected operator after %q", attrTok.text)
	}
	op := strings.ToLower(opTok.text)
	switch op {
	case OpPr:
		return &Compare{Attr: attr, Op: OpPr}, nil
	case OpEq, OpNe, OpCo, OpSw, OpEw, OpGt, OpGe, OpLt, OpLe:
	default:
		return nil, badFilter("unsupported operator %q", opTok.text)
	}

	valTok := p.next()
	var value any
	switch valTok.kind {
	case tokString:
		value = valTok.text
	case tokNumber:
		f, err := strconv.ParseFloat(valTok.text, 64)
		if err != nil {
			return nil, badFilter("bad number literal %q", valTok.text)
		}
		value = f
	case tokBool:
		value = valTok.text == "true"
	default:
		return nil, badFilter("expected literal after %q %s", attrTok.text, op)
	}
	return &Compare{Attr: attr, Op: op, Value: value}, nil
}

// --- evaluation ---

func (c *Compare) Matches(u *identity.User, now time.Time) bool {
	val, present := attrValue(u, c.Attr, now)
	if c.Op == OpPr {
		return present
	}
	switch want := c.Value.(type) {
	case bool:
		got, ok := val.(bool)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			return got == want
		case OpNe:
			return got != want
		}
		return false
	case string:
		got, ok := val.(string)
		if !ok {
			return false
		}
		return compareStrings(got, want, c.Op)
	case float64:
		return false // no numeric user attributes in the supported set
	}
	return false
}

func compareStrings(got, want, op string) bool {
	g, w := strings.ToLower(got), strings.ToLower(want)
	switch op {
	case OpEq:
		return g == w
	case OpNe:
		return g != w
	case OpCo:
		return strings.Contains(g, w)
	case OpSw:
		return strings.HasPrefix(g, w)
	case OpEw:
		return strings.HasSuffix(g, w)
	case OpGt:
		return g > w
	case OpGe:
		return g >= w
	case OpLt:
		return g < w
	case OpLe:
		return g <= w
	}
	return false
}

func (l *Logical) Matches(u *identity.User, now time.Time) bool {
	if l.Op == "and" {
		return l.Left.Matches(u, now) && l.Right.Matches(u, now)
	}
	return l.Left.Matches(u, now) || l.Right.Matches(u, now)
}

func (n *Not) Matches(u *identity.User, now time.Time) bool {
	return !n.Expr.Matches(u, now)
}

// attrValue extracts a filterable attribute from a user. The second return
// is the SCIM pr semantics: present and non-empty.
func attrValue(u *identity.User, attr string, now time.Time) (any, bool) {
	switch attr {
	case "userName":
		return u.Email, u.Email != ""
	case "externalId":
		if u.ScimExternalID == nil {
			return "", false
		}
		return *u.ScimExternalID, *u.ScimExternalID != ""
	case "displayName":
		return u.DisplayName, u.DisplayName != ""
	case "active":
		return !u.IsDeactivated(now), true
	case "id":
		return u.ID, u.ID != ""
	case "meta.created":
		return u.CreatedAt.UTC().Format(time.RFC3339), true
	}
	return nil, false
}

// String renders the node for log lines.
func (c *Compare) String() string {
	if c.Op == OpPr {
		return fmt.Sprintf("%s pr", c.Attr)
	}
	return fmt.Sprintf("%s %s %v", c.Attr, c.Op, c.Value)
}
