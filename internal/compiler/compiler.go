// Package compiler turns a set of selections into one GraphQL document.
//
// Documents are emitted in a compact, deterministic form: children are sorted
// by alias, every argument is lifted into a variable and every nested
// selection set starts with __typename plus the identity fields the schema
// declares, so responses can be merged into the normalized cache.
package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/schema"
	"github.com/kleberbaum/gqty/internal/selection"
	"github.com/kleberbaum/gqty/internal/transport"
)

// Options configure one compilation.
type Options struct {
	// OperationName is forwarded into the document when set.
	OperationName string
	// Schema supplies argument types and identity fields. Without a schema
	// argument types are inferred from values and only __typename is added.
	Schema *schema.Schema
}

var nameRE = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

type node struct {
	sel      *selection.Selection
	children []*node
	index    map[*selection.Selection]*node
}

func (n *node) child(sel *selection.Selection) *node {
	if c, ok := n.index[sel]; ok {
		return c
	}
	c := &node{sel: sel, index: make(map[*selection.Selection]*node)}
	n.index[sel] = c
	n.children = append(n.children, c)
	return c
}

type variable struct {
	typ   string
	value any
}

type compiler struct {
	opts Options
	vars map[string]variable
}

// Compile builds the document for sels, which must all be rooted at kind.
func Compile(kind selection.Kind, sels []*selection.Selection, opts Options) (transport.QueryPayload, error) {
	if opts.OperationName != "" && !nameRE.MatchString(opts.OperationName) {
		return transport.QueryPayload{}, &gqlerr.CompileError{Message: fmt.Sprintf("invalid operation name %q", opts.OperationName)}
	}
	root := &node{index: make(map[*selection.Selection]*node)}
	for _, sel := range sels {
		if sel.Kind() != kind {
			return transport.QueryPayload{}, &gqlerr.CompileError{
				Message: fmt.Sprintf("cannot mix %s and %s selections in one operation", kind, sel.Kind()),
			}
		}
		if sel.IsRoot() {
			continue
		}
		cur := root
		for _, anc := range sel.Ancestors()[1:] {
			cur = cur.child(anc)
		}
		cur.child(sel)
	}
	if len(root.children) == 0 {
		return transport.QueryPayload{}, &gqlerr.CompileError{Message: "no fields selected"}
	}

	c := &compiler{opts: opts, vars: make(map[string]variable)}
	var rootType string
	if opts.Schema != nil {
		rootType = opts.Schema.RootType(kind.String())
		if rootType == "" {
			return transport.QueryPayload{}, &gqlerr.CompileError{Message: fmt.Sprintf("schema has no %s type", kind)}
		}
	}
	var body strings.Builder
	if err := c.selectionSet(&body, root, rootType, true); err != nil {
		return transport.QueryPayload{}, err
	}

	var doc strings.Builder
	doc.WriteString(kind.String())
	if opts.OperationName != "" {
		doc.WriteByte(' ')
		doc.WriteString(opts.OperationName)
	}
	if len(c.vars) > 0 {
		names := make([]string, 0, len(c.vars))
		for name := range c.vars {
			names = append(names, name)
		}
		sort.Strings(names)
		doc.WriteByte('(')
		for i, name := range names {
			if i > 0 {
				doc.WriteByte(' ')
			}
			doc.WriteString("$" + name + ":" + c.vars[name].typ)
		}
		doc.WriteByte(')')
	}
	doc.WriteString(body.String())

	payload := transport.QueryPayload{Query: doc.String(), OperationName: opts.OperationName}
	if len(c.vars) > 0 {
		payload.Variables = make(map[string]any, len(c.vars))
		for name, v := range c.vars {
			payload.Variables[name] = v.value
		}
	}
	return payload, nil
}

// selectionSet writes "{...}" for the children of n. typeName is the schema
// type of n, empty when unknown.
func (c *compiler) selectionSet(b *strings.Builder, n *node, typeName string, operation bool) error {
	fields, fragments := sortChildren(n.children)
	var items []string

	if !operation {
		selected := make(map[string]bool, len(fields))
		for _, f := range fields {
			if !f.sel.HasArgs() {
				selected[f.sel.Key()] = true
			}
		}
		isFragment := n.sel != nil && n.sel.IsFragment()
		if !isFragment && !selected["__typename"] {
			items = append(items, "__typename")
		}
		if c.opts.Schema != nil {
			for _, id := range c.opts.Schema.IdentityFields(typeName) {
				if !selected[id] {
					items = append(items, id)
				}
			}
		}
	}

	for _, f := range fields {
		s, err := c.field(f, typeName)
		if err != nil {
			return err
		}
		items = append(items, s)
	}
	for _, f := range fragments {
		var fb strings.Builder
		cond := f.sel.TypeCondition()
		if c.opts.Schema != nil {
			if _, ok := c.opts.Schema.Type(cond); !ok {
				return &gqlerr.CompileError{Message: fmt.Sprintf("unknown fragment type %q", cond)}
			}
		}
		fb.WriteString("...on " + cond)
		if err := c.selectionSet(&fb, f, cond, false); err != nil {
			return err
		}
		items = append(items, fb.String())
	}

	b.WriteByte('{')
	b.WriteString(strings.Join(items, " "))
	b.WriteByte('}')
	return nil
}

func (c *compiler) field(n *node, parentType string) (string, error) {
	sel := n.sel
	key := sel.Key()
	var childType string
	if c.opts.Schema != nil && parentType != "" {
		ref, ok := c.opts.Schema.FieldType(parentType, key)
		if !ok {
			return "", &gqlerr.CompileError{Message: fmt.Sprintf("field %q not found on type %q", key, parentType)}
		}
		childType = ref.GetNamedType()
	}

	var b strings.Builder
	if sel.Alias() != key {
		b.WriteString(sel.Alias())
		b.WriteByte(':')
	}
	b.WriteString(key)
	if sel.HasArgs() {
		b.WriteByte('(')
		for i, a := range sel.Args() {
			if i > 0 {
				b.WriteByte(' ')
			}
			name, err := c.variable(sel, parentType, a)
			if err != nil {
				return "", err
			}
			b.WriteString(a.Name + ":$" + name)
		}
		b.WriteByte(')')
	}

	switch {
	case len(n.children) > 0:
		if err := c.selectionSet(&b, n, childType, false); err != nil {
			return "", err
		}
	case c.opts.Schema != nil && c.opts.Schema.IsComposite(childType):
		if err := c.selectionSet(&b, n, childType, false); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// variable registers the variable carrying a and returns its name.
func (c *compiler) variable(sel *selection.Selection, parentType string, a selection.Argument) (string, error) {
	typ := a.Type
	if typ == "" && c.opts.Schema != nil && parentType != "" {
		if ref, ok := c.opts.Schema.ArgumentType(parentType, sel.Key(), a.Name); ok {
			typ = ref.String()
		}
	}
	if typ == "" {
		inferred, ok := selection.InferType(a.Value)
		if !ok {
			return "", &gqlerr.CompileError{
				Message: fmt.Sprintf("cannot determine the type of argument %q of field %q", a.Name, sel.Key()),
			}
		}
		typ = inferred
	}

	base := sel.Alias() + "_" + a.Name
	name := base
	for i := 2; ; i++ {
		prev, ok := c.vars[name]
		if !ok {
			c.vars[name] = variable{typ: typ, value: a.Value}
			return name, nil
		}
		if prev.typ == typ && equalValues(prev.value, a.Value) {
			return name, nil
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

func sortChildren(children []*node) (fields, fragments []*node) {
	for _, c := range children {
		if c.sel.IsFragment() {
			fragments = append(fragments, c)
		} else {
			fields = append(fields, c)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].sel.Alias() < fields[j].sel.Alias() })
	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].sel.TypeCondition() < fragments[j].sel.TypeCondition()
	})
	return fields, fragments
}

func equalValues(a, b any) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
