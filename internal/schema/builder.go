package schema

import (
	"fmt"
	"os"

	"github.com/kleberbaum/gqty/internal/language"
	"github.com/vektah/gqlparser/v2/ast"
)

// BuildFromSDL parses and validates SDL and returns the corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	doc, err := language.LoadSchema("schema.graphql", sdl)
	if err != nil {
		return nil, err
	}
	return BuildFromAST(doc), nil
}

// Load reads an SDL file.
func Load(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	doc, err := language.LoadSchema(path, string(b))
	if err != nil {
		return nil, err
	}
	return BuildFromAST(doc), nil
}

// BuildFromAST converts a validated gqlparser schema.
func BuildFromAST(doc *ast.Schema) *Schema {
	s := &Schema{
		Types: make(map[string]*Type, len(doc.Types)),
		doc:   doc,
	}
	if doc.Query != nil {
		s.QueryType = doc.Query.Name
	}
	if doc.Mutation != nil {
		s.MutationType = doc.Mutation.Name
	}
	if doc.Subscription != nil {
		s.SubscriptionType = doc.Subscription.Name
	}
	for name, def := range doc.Types {
		s.Types[name] = buildType(def)
	}
	return s
}

func buildType(def *ast.Definition) *Type {
	t := &Type{Name: def.Name, fields: make(map[string]*Field)}
	switch def.Kind {
	case ast.Object:
		t.Kind = TypeKindObject
	case ast.Interface:
		t.Kind = TypeKindInterface
	case ast.Union:
		t.Kind = TypeKindUnion
	case ast.Enum:
		t.Kind = TypeKindEnum
	case ast.InputObject:
		t.Kind = TypeKindInputObject
	default:
		t.Kind = TypeKindScalar
	}
	t.Interfaces = append(t.Interfaces, def.Interfaces...)
	t.PossibleTypes = append(t.PossibleTypes, def.Types...)
	for _, v := range def.EnumValues {
		t.EnumValues = append(t.EnumValues, v.Name)
	}
	for _, fd := range def.Fields {
		if t.Kind == TypeKindInputObject {
			t.InputFields = append(t.InputFields, &InputValue{Name: fd.Name, Type: buildTypeRef(fd.Type)})
			continue
		}
		f := &Field{Name: fd.Name, Type: buildTypeRef(fd.Type)}
		for _, a := range fd.Arguments {
			f.Arguments = append(f.Arguments, &InputValue{Name: a.Name, Type: buildTypeRef(a.Type)})
		}
		t.Fields = append(t.Fields, f)
		t.fields[f.Name] = f
	}
	return t
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}
