package gqltest

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kleberbaum/gqty/internal/gqlerr"
	"github.com/kleberbaum/gqty/internal/language"
	"github.com/kleberbaum/gqty/internal/transport"
)

// execution holds the state of one operation.
type execution struct {
	ctx    context.Context
	srv    *Server
	doc    *language.QueryDocument
	op     *language.OperationDefinition
	vars   map[string]any
	errors []gqlerr.GraphQLError
}

type collectedField struct {
	responseName string
	fields       []*language.Field
}

// prepare parses, validates and coerces a payload. A non-nil response
// reports a request error.
func (s *Server) prepare(ctx context.Context, payload transport.QueryPayload) (*execution, *transport.Response) {
	doc, err := language.LoadQuery(s.schema, payload.Query)
	if err != nil {
		return nil, requestErrors(err)
	}
	op := operation(doc, payload.OperationName)
	if op == nil {
		return nil, errorResponse("operation not found")
	}
	vars, err := coerceVariables(op, payload.Variables)
	if err != nil {
		return nil, errorResponse(err.Error())
	}
	return &execution{ctx: ctx, srv: s, doc: doc, op: op, vars: vars}, nil
}

func requestErrors(err error) *transport.Response {
	list, ok := err.(language.ErrorList)
	if !ok {
		return errorResponse(err.Error())
	}
	resp := &transport.Response{}
	for _, e := range list {
		ge := gqlerr.GraphQLError{Message: e.Message}
		for _, l := range e.Locations {
			ge.Locations = append(ge.Locations, gqlerr.Location{Line: l.Line, Column: l.Column})
		}
		resp.Errors = append(resp.Errors, ge)
	}
	return resp
}

func operation(doc *language.QueryDocument, name string) *language.OperationDefinition {
	if name == "" && len(doc.Operations) == 1 {
		return doc.Operations[0]
	}
	return doc.Operations.ForName(name)
}

func (e *execution) rootType() *language.Definition {
	switch e.op.Operation {
	case language.Mutation:
		return e.srv.schema.Mutation
	case language.Subscription:
		return e.srv.schema.Subscription
	default:
		return e.srv.schema.Query
	}
}

func (e *execution) run() *transport.Response {
	root := e.rootType()
	if root == nil {
		return errorResponse(fmt.Sprintf("schema has no %s type", e.op.Operation))
	}
	data, _ := e.selectionSet(root, e.op.SelectionSet, nil, nil)
	return &transport.Response{Data: data, Errors: e.errors}
}

// selectionSet executes set on an object. ok is false when a non-null field
// resolved to null and the object itself must become null.
func (e *execution) selectionSet(obj *language.Definition, set language.SelectionSet, source any, path []any) (map[string]any, bool) {
	out := make(map[string]any)
	for _, cf := range e.collectFields(obj, set) {
		fieldPath := appendPath(path, cf.responseName)
		v, ok := e.field(obj, cf.fields, source, fieldPath)
		if !ok {
			return nil, false
		}
		out[cf.responseName] = v
	}
	return out, true
}

func (e *execution) field(obj *language.Definition, fields []*language.Field, source any, path []any) (any, bool) {
	f := fields[0]
	if f.Name == "__typename" {
		return obj.Name, true
	}
	def := obj.Fields.ForName(f.Name)
	if def == nil {
		e.addError(fmt.Sprintf("Cannot query field %q on type %q", f.Name, obj.Name), path)
		return nil, true
	}
	args, err := coerceArguments(def, f.Arguments, e.vars)
	if err != nil {
		e.addError(err.Error(), path)
		return e.complete(def.Type, fields, nil, path)
	}

	var value any
	if r := e.srv.resolver(obj.Name, f.Name, args); r != nil {
		v, err := r(e.ctx, source, args)
		if err != nil {
			e.addError(err.Error(), path)
			return e.complete(def.Type, fields, nil, path)
		}
		value = v
	} else if m, ok := source.(map[string]any); ok {
		value = m[f.Name]
	}
	return e.complete(def.Type, fields, value, path)
}

// complete coerces v to t. ok is false when the null must propagate to the
// enclosing field.
func (e *execution) complete(t *language.Type, fields []*language.Field, v any, path []any) (any, bool) {
	if !t.NonNull {
		c, propagated := e.completeNullable(t, fields, v, path)
		if propagated {
			return nil, true
		}
		return c, true
	}
	nullable := *t
	nullable.NonNull = false
	c, propagated := e.completeNullable(&nullable, fields, v, path)
	if propagated {
		return nil, false
	}
	if isNullish(c) {
		if !e.hasErrorAt(path) {
			e.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", pathString(path)), path)
		}
		return nil, false
	}
	return c, true
}

// completeNullable reports propagated when a non-null descendant became null.
func (e *execution) completeNullable(t *language.Type, fields []*language.Field, v any, path []any) (any, bool) {
	if isNullish(v) {
		return nil, false
	}
	if t.Elem != nil {
		return e.completeList(t.Elem, fields, v, path)
	}

	def := e.srv.schema.Types[t.NamedType]
	if def == nil {
		e.addError("Unknown type: "+t.NamedType, path)
		return nil, false
	}
	switch def.Kind {
	case language.Scalar, language.Enum:
		return v, false
	case language.Object:
		m, ok := e.selectionSet(def, mergeSelectionSets(fields), v, path)
		return m, !ok
	case language.Interface, language.Union:
		concrete := e.resolveType(def, v)
		if concrete == nil {
			e.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime", def.Name), path)
			return nil, false
		}
		m, ok := e.selectionSet(concrete, mergeSelectionSets(fields), v, path)
		return m, !ok
	}
	e.addError(fmt.Sprintf("Cannot complete value of unexpected type %s", def.Kind), path)
	return nil, false
}

func (e *execution) completeList(elem *language.Type, fields []*language.Field, v any, path []any) (any, bool) {
	items, ok := v.([]any)
	if !ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			e.addError(fmt.Sprintf("Expected list value, got %T", v), path)
			return nil, false
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}
	out := make([]any, len(items))
	for i, item := range items {
		c, ok := e.complete(elem, fields, item, appendPath(path, i))
		if !ok {
			return nil, true
		}
		out[i] = c
	}
	return out, false
}

// resolveType reads __typename from map values.
func (e *execution) resolveType(abstract *language.Definition, v any) *language.Definition {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	name, _ := m["__typename"].(string)
	def := e.srv.schema.Types[name]
	if def == nil || def.Kind != language.Object || !e.implements(def, abstract.Name) {
		return nil
	}
	return def
}

func (e *execution) implements(obj *language.Definition, typeName string) bool {
	if obj.Name == typeName {
		return true
	}
	for _, p := range e.srv.schema.PossibleTypes[typeName] {
		if p.Name == obj.Name {
			return true
		}
	}
	return false
}

func (e *execution) collectFields(obj *language.Definition, set language.SelectionSet) []collectedField {
	var out []collectedField
	index := make(map[string]int)
	visited := make(map[string]bool)
	var walk func(language.SelectionSet)
	walk = func(set language.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *language.Field:
				name := s.Alias
				if name == "" {
					name = s.Name
				}
				if i, ok := index[name]; ok {
					out[i].fields = append(out[i].fields, s)
					continue
				}
				index[name] = len(out)
				out = append(out, collectedField{responseName: name, fields: []*language.Field{s}})
			case *language.InlineFragment:
				if s.TypeCondition == "" || e.implements(obj, s.TypeCondition) {
					walk(s.SelectionSet)
				}
			case *language.FragmentSpread:
				if visited[s.Name] {
					continue
				}
				visited[s.Name] = true
				if fd := e.doc.Fragments.ForName(s.Name); fd != nil && e.implements(obj, fd.TypeCondition) {
					walk(fd.SelectionSet)
				}
			}
		}
	}
	walk(set)
	return out
}

func (e *execution) addError(msg string, path []any) {
	e.errors = append(e.errors, gqlerr.GraphQLError{Message: msg, Path: path})
}

func (e *execution) hasErrorAt(path []any) bool {
	for _, err := range e.errors {
		if reflect.DeepEqual(err.Path, path) {
			return true
		}
	}
	return false
}

func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

func appendPath(path []any, elem any) []any {
	out := make([]any, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

func pathString(path []any) string {
	s := ""
	for i, p := range path {
		switch v := p.(type) {
		case string:
			if i > 0 {
				s += "."
			}
			s += v
		case int:
			s += fmt.Sprintf("[%d]", v)
		}
	}
	return s
}

// isNullish reports nil interfaces and typed nils.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
