package domain

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// Filter is a boolean query over record fields, written in the data bag
// search syntax: `groups:sysadmin AND NOT (action:remove OR environments:all)`.
type Filter interface {
	Match(u UserRecord) bool
	String() string
}

// Term matches records whose field holds value. List fields match when any
// element equals value; "*" matches any non-empty field.
type Term struct {
	Field string
	Value string
}

// And matches when every filter matches.
type And []Filter

// Or matches when any filter matches.
type Or []Filter

// Not inverts a filter.
type Not struct {
	Inner Filter
}

func (t Term) Match(u UserRecord) bool {
	values := fieldValues(u, t.Field)
	if t.Value == "*" {
		return lo.SomeBy(values, func(v string) bool { return v != "" })
	}
	return slices.Contains(values, t.Value)
}

func (t Term) String() string {
	if strings.ContainsFunc(t.Value, func(r rune) bool { return unicode.IsSpace(r) || r == '(' || r == ')' }) {
		return fmt.Sprintf("%s:%q", t.Field, t.Value)
	}
	return t.Field + ":" + t.Value
}

func (a And) Match(u UserRecord) bool {
	for _, f := range a {
		if !f.Match(u) {
			return false
		}
	}
	return true
}

func (a And) String() string {
	return strings.Join(lo.Map(a, func(f Filter, _ int) string { return group(f) }), " AND ")
}

func (o Or) Match(u UserRecord) bool {
	return lo.SomeBy(o, func(f Filter) bool { return f.Match(u) })
}

func (o Or) String() string {
	return strings.Join(lo.Map(o, func(f Filter, _ int) string { return group(f) }), " OR ")
}

func (n Not) Match(u UserRecord) bool {
	return !n.Inner.Match(u)
}

func (n Not) String() string {
	return "NOT " + group(n.Inner)
}

// group parenthesizes compound filters when nested.
func group(f Filter) string {
	switch v := f.(type) {
	case And:
		if len(v) > 1 {
			return "(" + v.String() + ")"
		}
	case Or:
		if len(v) > 1 {
			return "(" + v.String() + ")"
		}
	}
	return f.String()
}

func fieldValues(u UserRecord, field string) []string {
	switch field {
	case "groups":
		return u.Groups
	case "environments":
		return u.Environments
	case "action":
		return []string{string(u.EffectiveAction())}
	case "id":
		return []string{u.ID}
	case "username":
		return []string{u.Name()}
	case "shell":
		return []string{u.Shell}
	case "home":
		return []string{u.Home}
	case "comment":
		return []string{u.Comment}
	}
	return nil
}

// ParseFilter parses the search syntax. NOT binds tighter than AND, which
// binds tighter than OR.
func ParseFilter(s string) (Filter, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidFilter)
	}
	p := &parser{toks: toks}
	f, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidFilter, p.toks[p.pos])
	}
	return f, nil
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) or() (Filter, error) {
	var out Or
	for {
		f, err := p.and()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		if p.peek() != "OR" {
			break
		}
		p.pos++
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (p *parser) and() (Filter, error) {
	var out And
	for {
		f, err := p.unary()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		if p.peek() != "AND" {
			break
		}
		p.pos++
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (p *parser) unary() (Filter, error) {
	tok := p.peek()
	switch tok {
	case "":
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrInvalidFilter)
	case "NOT":
		p.pos++
		f, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not{Inner: f}, nil
	case "(":
		p.pos++
		f, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidFilter)
		}
		p.pos++
		return f, nil
	case ")", "AND", "OR":
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidFilter, tok)
	}
	p.pos++
	field, value, ok := strings.Cut(tok, ":")
	if !ok || field == "" || value == "" {
		return nil, fmt.Errorf("%w: term %q is not field:value", ErrInvalidFilter, tok)
	}
	return Term{Field: field, Value: strings.Trim(value, `"`)}, nil
}

func tokenize(s string) ([]string, error) {
	var (
		toks   []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case quoted:
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote", ErrInvalidFilter)
	}
	flush()
	return toks, nil
}
