package selection

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/kleberbaum/gqty/internal/gqlerr"
)

// Argument is one field argument. Value holds the Go representation of a
// GraphQL input value: nil, bool, string, int64, float64, []any or
// map[string]any after normalization. Type is the GraphQL input type used when
// the compiler lifts the value into a variable ("String!", "[ID!]"); when
// empty it is looked up in the schema or inferred from the value.
type Argument struct {
	Name  string
	Value any
	Type  string
}

// Arg is shorthand for an Argument without an explicit type.
func Arg(name string, value any) Argument {
	return Argument{Name: name, Value: value}
}

// TypedArg is shorthand for an Argument with an explicit GraphQL type.
func TypedArg(name string, value any, typ string) Argument {
	return Argument{Name: name, Value: value, Type: typ}
}

// Args builds arguments from a map, sorted by name.
func Args(m map[string]any) []Argument {
	out := make([]Argument, 0, len(m))
	for k, v := range m {
		out = append(out, Argument{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// normalizeArgs validates and canonicalizes args, returning them sorted by
// name together with their canonical serialization.
func normalizeArgs(field string, args []Argument) ([]Argument, string, error) {
	if len(args) == 0 {
		return nil, "", nil
	}
	out := make([]Argument, 0, len(args))
	seen := make(map[string]int, len(args))
	for _, a := range args {
		v, err := Normalize(a.Value)
		if err != nil {
			return nil, "", &gqlerr.ArgumentError{Field: field, Argument: a.Name, Cause: err}
		}
		if i, dup := seen[a.Name]; dup {
			out[i] = Argument{Name: a.Name, Value: v, Type: a.Type}
			continue
		}
		seen[a.Name] = len(out)
		out = append(out, Argument{Name: a.Name, Value: v, Type: a.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	canon := make(map[string]any, len(out))
	for _, a := range out {
		canon[a.Name] = a.Value
	}
	// encoding/json sorts map keys, which makes the output canonical.
	b, err := json.Marshal(canon)
	if err != nil {
		return nil, "", &gqlerr.ArgumentError{Field: field, Cause: err}
	}
	return out, string(b), nil
}

// Normalize converts v to the canonical value variant used for hashing and
// document compilation. Functions, channels, complex numbers, non-finite
// floats and strings that are not valid UTF-8 produce an error.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return normalizeString(t)
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return normalizeFloat(f)
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(t, &out); err != nil {
			return nil, err
		}
		return Normalize(out)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if _, err := normalizeString(k); err != nil {
				return nil, err
			}
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case json.Marshaler:
		b, err := t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return Normalize(json.RawMessage(b))
	}
	return normalizeReflect(reflect.ValueOf(v))
}

// normalizeString rejects invalid UTF-8, which JSON encoding would otherwise
// replace with U+FFFD and so give distinct values the same identity.
func normalizeString(s string) (any, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("string %q is not valid UTF-8", s)
	}
	return s, nil
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float %v", f)
	}
	return f, nil
}

func normalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key type %s is not a string", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if _, err := normalizeString(iter.Key().String()); err != nil {
				return nil, err
			}
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.String:
		return normalizeString(rv.String())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows Int", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Struct:
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, err
		}
		return Normalize(json.RawMessage(b))
	}
	return nil, fmt.Errorf("unsupported argument value of type %s", rv.Type())
}

// InferType guesses the GraphQL input type of a normalized value. It returns
// false for null, empty lists and objects, whose type cannot be known without
// a schema.
func InferType(v any) (string, bool) {
	switch t := v.(type) {
	case bool:
		return "Boolean", true
	case string:
		return "String", true
	case int64:
		return "Int", true
	case float64:
		return "Float", true
	case []any:
		if len(t) == 0 {
			return "", false
		}
		inner, ok := InferType(t[0])
		if !ok {
			return "", false
		}
		return "[" + inner + "]", true
	}
	return "", false
}
