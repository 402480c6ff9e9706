// Package schema holds the optional schema knowledge the compiler uses:
// argument types for variable definitions, field result types and the
// identity fields of object types.
package schema

import "github.com/vektah/gqlparser/v2/ast"

// Schema represents the parts of a GraphQL schema a client needs.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // All named types keyed by name

	doc *ast.Schema
}

// Type is a named GraphQL type (object, interface, union, scalar, enum, input)
type Type struct {
	Name          string
	Kind          TypeKind
	Fields        []*Field      // For OBJECT and INTERFACE
	Interfaces    []string      // For OBJECT and INTERFACE
	PossibleTypes []string      // For INTERFACE and UNION
	EnumValues    []string      // For ENUM
	InputFields   []*InputValue // For INPUT_OBJECT

	fields map[string]*Field
}

// Field represents a field on an object or interface
type Field struct {
	Name      string
	Type      *TypeRef
	Arguments []*InputValue
}

type InputValue struct {
	Name string
	Type *TypeRef
}

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// IsComposite reports whether values of the kind need a selection set.
func (k TypeKind) IsComposite() bool {
	return k == TypeKindObject || k == TypeKindInterface || k == TypeKindUnion
}

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t == nil {
		return false
	}
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

// GetNamedType returns the innermost named type.
func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

// String renders the reference in SDL notation ("[ID!]!").
func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindNamed:
		return t.Named
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	}
	return ""
}

// Field returns the named field of an object or interface.
func (t *Type) Field(name string) (*Field, bool) {
	if t == nil {
		return nil, false
	}
	f, ok := t.fields[name]
	return f, ok
}

// Argument returns the named argument of f.
func (f *Field) Argument(name string) (*InputValue, bool) {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Type looks up a named type.
func (s *Schema) Type(name string) (*Type, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.Types[name]
	return t, ok
}

// RootType returns the root type name for "query", "mutation" or
// "subscription"; empty when the schema has no such root.
func (s *Schema) RootType(operation string) string {
	switch operation {
	case "query":
		return s.QueryType
	case "mutation":
		return s.MutationType
	case "subscription":
		return s.SubscriptionType
	}
	return ""
}

// FieldType returns the result type of parent.field. The __typename meta
// field resolves on every composite type.
func (s *Schema) FieldType(parent, field string) (*TypeRef, bool) {
	if field == "__typename" {
		return NonNullType(NamedType("String")), true
	}
	t, ok := s.Type(parent)
	if !ok {
		return nil, false
	}
	f, ok := t.Field(field)
	if !ok {
		return nil, false
	}
	return f.Type, true
}

// ArgumentType returns the declared type of parent.field(arg:).
func (s *Schema) ArgumentType(parent, field, arg string) (*TypeRef, bool) {
	t, ok := s.Type(parent)
	if !ok {
		return nil, false
	}
	f, ok := t.Field(field)
	if !ok {
		return nil, false
	}
	a, ok := f.Argument(arg)
	if !ok {
		return nil, false
	}
	return a.Type, true
}

// IsComposite reports whether the named type needs a selection set.
func (s *Schema) IsComposite(name string) bool {
	t, ok := s.Type(name)
	return ok && t.Kind.IsComposite()
}

// IdentityFields returns the fields that identify objects of the named type:
// "id" when declared, else "_id". Interfaces qualify when they declare the
// field themselves; unions never do.
func (s *Schema) IdentityFields(name string) []string {
	t, ok := s.Type(name)
	if !ok || (t.Kind != TypeKindObject && t.Kind != TypeKindInterface) {
		return nil
	}
	for _, candidate := range []string{"id", "_id"} {
		f, ok := t.Field(candidate)
		if !ok || len(f.Arguments) > 0 || f.Type.IsList() {
			continue
		}
		if rt, ok := s.Type(f.Type.GetNamedType()); ok && rt.Kind == TypeKindScalar {
			return []string{candidate}
		}
	}
	return nil
}

// AST exposes the parsed schema for validation with gqlparser.
func (s *Schema) AST() *ast.Schema { return s.doc }
