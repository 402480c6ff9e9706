package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/kleberbaum/gqty/internal/accessor"
	"github.com/kleberbaum/gqty/internal/language"
	"github.com/kleberbaum/gqty/internal/selection"
)

// plan is a parsed selection argument. Field arguments are converted once so
// that every projection pass selects identical fields.
type plan struct {
	set  language.SelectionSet
	args map[*language.Field][]selection.Argument
}

// parsePlan reads a GraphQL selection. The outer braces and the operation
// keyword are optional: "hello user(id: 1) { name }" is accepted.
func parsePlan(src string, vars map[string]any) (*plan, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty selection")
	}
	if !strings.HasPrefix(src, "{") && !isOperation(src) {
		src = "{" + src + "}"
	}
	doc, err := language.ParseQuery(src)
	if err != nil {
		return nil, fmt.Errorf("parse selection: %w", err)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("expected one operation, got %d", len(doc.Operations))
	}
	p := &plan{set: doc.Operations[0].SelectionSet, args: map[*language.Field][]selection.Argument{}}
	if err := p.prepare(p.set, vars); err != nil {
		return nil, err
	}
	return p, nil
}

// isOperation reports whether src starts with an operation keyword rather
// than a field of that name.
func isOperation(src string) bool {
	word, rest := name(src)
	switch word {
	case "query", "mutation", "subscription":
	default:
		return false
	}
	if opName, after := name(rest); opName != "" {
		rest = after
	}
	switch {
	case strings.HasPrefix(rest, "{"):
		return true
	case strings.HasPrefix(rest, "("):
		return strings.HasPrefix(strings.TrimSpace(rest[1:]), "$")
	}
	return false
}

// name splits a leading GraphQL name off src and trims the remainder.
func name(src string) (string, string) {
	src = strings.TrimSpace(src)
	i := strings.IndexFunc(src, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if i < 0 {
		i = len(src)
	}
	return src[:i], strings.TrimSpace(src[i:])
}

func (p *plan) prepare(set language.SelectionSet, vars map[string]any) error {
	for _, s := range set {
		switch s := s.(type) {
		case *language.Field:
			for _, a := range s.Arguments {
				if a.Value.Kind == language.Variable {
					if _, ok := vars[a.Value.Raw]; !ok {
						return fmt.Errorf("variable $%s is not set", a.Value.Raw)
					}
				}
				v, err := a.Value.Value(vars)
				if err != nil {
					return fmt.Errorf("argument %s.%s: %w", s.Name, a.Name, err)
				}
				p.args[s] = append(p.args[s], selection.Arg(a.Name, v))
			}
			if err := p.prepare(s.SelectionSet, vars); err != nil {
				return err
			}
		case *language.InlineFragment:
			if err := p.prepare(s.SelectionSet, vars); err != nil {
				return err
			}
		case *language.FragmentSpread:
			return fmt.Errorf("fragment spread ...%s is not supported, use an inline fragment", s.Name)
		}
	}
	return nil
}

// project walks the plan below a and returns the data keyed by response name.
func (p *plan) project(a *accessor.Accessor) map[string]any {
	return p.walk(a, p.set)
}

func (p *plan) walk(a *accessor.Accessor, set language.SelectionSet) map[string]any {
	out := make(map[string]any, len(set))
	for _, s := range set {
		switch s := s.(type) {
		case *language.Field:
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			out[key] = p.value(a.Field(s.Name, p.args[s]...), s.SelectionSet)
		case *language.InlineFragment:
			frag := a
			if s.TypeCondition != "" {
				frag = a.On(s.TypeCondition)
			}
			sub := p.walk(frag, s.SelectionSet)
			if frag.Found() && frag.Value() == nil {
				continue
			}
			maps.Copy(out, sub)
		}
	}
	return out
}

func (p *plan) value(a *accessor.Accessor, set language.SelectionSet) any {
	if len(set) == 0 {
		return a.Value()
	}
	if !a.Found() {
		p.walk(a, set)
		return nil
	}
	if a.IsNull() {
		return nil
	}
	if _, ok := a.Value().([]any); ok {
		items := a.List()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = p.value(item, set)
		}
		return out
	}
	return p.walk(a, set)
}

// parseVars reads name=value pairs. Values that parse as JSON are decoded;
// anything else is taken as a string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, want name=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		vars[strings.TrimPrefix(key, "$")] = v
	}
	return vars, nil
}
