package gqltest

import (
	"fmt"
	"strconv"

	"github.com/kleberbaum/gqty/internal/language"
)

// coerceVariables coerces the request variables against the operation's
// variable definitions.
func coerceVariables(op *language.OperationDefinition, values map[string]any) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, def := range op.VariableDefinitions {
		name := def.Variable
		val, ok := values[name]
		if !ok {
			switch {
			case def.DefaultValue != nil:
				val = literal(def.DefaultValue, nil)
			case def.Type.NonNull:
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, def.Type.String())
			default:
				continue
			}
		}
		cv, err := coerce(val, def.Type)
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, def.Type.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArguments resolves the arguments of a field, falling back to
// declared defaults.
func coerceArguments(def *language.FieldDefinition, args language.ArgumentList, vars map[string]any) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, arg := range args {
		argDef := def.Arguments.ForName(arg.Name)
		if argDef == nil {
			continue
		}
		cv, err := coerce(literal(arg.Value, vars), argDef.Type)
		if err != nil {
			return nil, fmt.Errorf("argument %q cannot be coerced: %v", arg.Name, err)
		}
		coerced[arg.Name] = cv
	}
	for _, argDef := range def.Arguments {
		if _, ok := coerced[argDef.Name]; ok {
			continue
		}
		switch {
		case argDef.DefaultValue != nil:
			coerced[argDef.Name] = literal(argDef.DefaultValue, nil)
		case argDef.Type.NonNull:
			return nil, fmt.Errorf("argument %q of required type was not provided", argDef.Name)
		}
	}
	return coerced, nil
}

// literal converts an AST value, substituting variables from vars.
func literal(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		return vars[v.Raw]
	case language.IntValue:
		n, _ := strconv.Atoi(v.Raw)
		return n
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = literal(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			m[c.Name] = literal(c.Value, vars)
		}
		return m
	}
	return nil
}

func coerce(value any, t *language.Type) (any, error) {
	if t.NonNull {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		nullable := *t
		nullable.NonNull = false
		return coerce(value, &nullable)
	}
	if value == nil {
		return nil, nil
	}
	if t.Elem != nil {
		items, ok := value.([]any)
		if !ok {
			item, err := coerce(value, t.Elem)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			c, err := coerce(item, t.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	switch t.NamedType {
	case "Int":
		return coerceInt(value)
	case "Float":
		return coerceFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to string", value, value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case int:
			return strconv.Itoa(v), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
		return fmt.Sprintf("%v", value), nil
	}
	return value, nil
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}
