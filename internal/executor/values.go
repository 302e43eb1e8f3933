package executor

import (
	"fmt"
	"strconv"

	language "github.com/hanpama/graphexec/internal/language"
	schema "github.com/hanpama/graphexec/internal/schema"
)

// coerceVariableValues validates and coerces the request's variable values
// against the operation's variable definitions. Missing variables take their
// declared defaults; missing non-null variables without defaults are errors.
func coerceVariableValues(s *schema.Schema, op *language.OperationDefinition, variables map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		varType := typeRefFromAST(def.Type)
		value, provided := variables[def.Variable]
		if !provided {
			if def.DefaultValue != nil {
				coerced[def.Variable] = valueFromAST(def.DefaultValue, nil)
				continue
			}
			if varType.IsNonNull() {
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", def.Variable, varType)
			}
			continue
		}
		cv, err := coerceValue(s, varType, value)
		if err != nil {
			return nil, fmt.Errorf("variable $%s got invalid value: %w", def.Variable, err)
		}
		coerced[def.Variable] = cv
	}
	return coerced, nil
}

// argumentValues returns the coerced argument map for a field node, memoized
// per request. List and stream completion evaluate the same node repeatedly.
func (ec *executionContext) argumentValues(fieldDef *schema.Field, node *language.Field) (map[string]any, error) {
	ec.mu.Lock()
	if cached, ok := ec.argCache[node]; ok {
		ec.mu.Unlock()
		return cached, nil
	}
	ec.mu.Unlock()

	args, err := coerceArgumentValues(ec.schema, fieldDef, node, ec.variableValues)
	if err != nil {
		return nil, err
	}

	ec.mu.Lock()
	ec.argCache[node] = args
	ec.mu.Unlock()
	return args, nil
}

// coerceArgumentValues coerces a field node's arguments against the field
// definition, applying defaults and rejecting missing required arguments.
func coerceArgumentValues(s *schema.Schema, fieldDef *schema.Field, node *language.Field, variables map[string]any) (map[string]any, error) {
	if len(fieldDef.Arguments) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(fieldDef.Arguments))
	for _, argDef := range fieldDef.Arguments {
		var astValue *language.Value
		for _, arg := range node.Arguments {
			if arg.Name == argDef.Name {
				astValue = arg.Value
				break
			}
		}
		if astValue == nil {
			if argDef.HasDefault {
				args[argDef.Name] = argDef.DefaultValue
				continue
			}
			if argDef.Type.IsNonNull() {
				return nil, fmt.Errorf("field %q argument %q of required type %s was not provided", node.Name, argDef.Name, argDef.Type)
			}
			continue
		}
		// A variable reference that was not provided behaves like an omitted
		// argument.
		if astValue.Kind == language.Variable {
			if _, provided := variables[astValue.Raw]; !provided {
				if argDef.HasDefault {
					args[argDef.Name] = argDef.DefaultValue
					continue
				}
				if argDef.Type.IsNonNull() {
					return nil, fmt.Errorf("field %q argument %q of required type %s was not provided", node.Name, argDef.Name, argDef.Type)
				}
				continue
			}
		}
		raw := valueFromAST(astValue, variables)
		cv, err := coerceValue(s, argDef.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q argument %q got invalid value: %w", node.Name, argDef.Name, err)
		}
		args[argDef.Name] = cv
	}
	return args, nil
}

// coerceValue applies input coercion of a Go value against a type reference.
func coerceValue(s *schema.Schema, t *schema.TypeRef, value any) (any, error) {
	if t.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("expected non-null value of type %s", t)
		}
		return coerceValue(s, t.Unwrap(), value)
	}
	if value == nil {
		return nil, nil
	}
	if t.IsList() {
		items, ok := value.([]any)
		if !ok {
			// A non-list value coerces to a single-item list.
			cv, err := coerceValue(s, t.Unwrap(), value)
			if err != nil {
				return nil, err
			}
			return []any{cv}, nil
		}
		coerced := make([]any, len(items))
		for i, item := range items {
			cv, err := coerceValue(s, t.Unwrap(), item)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			coerced[i] = cv
		}
		return coerced, nil
	}

	named := s.GetType(t.GetNamedType())
	if named == nil {
		return nil, fmt.Errorf("unknown type %s", t.GetNamedType())
	}
	switch named.Kind {
	case schema.TypeKindScalar:
		return coerceScalar(named.Name, value)
	case schema.TypeKindEnum:
		name, ok := value.(string)
		if !ok || !named.HasEnumValue(name) {
			return nil, fmt.Errorf("invalid value for enum %s: %v", named.Name, value)
		}
		return name, nil
	case schema.TypeKindInputObject:
		return coerceInputObject(s, named, value)
	default:
		return nil, fmt.Errorf("type %s is not an input type", named.Name)
	}
}

func coerceInputObject(s *schema.Schema, t *schema.Type, value any) (any, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected input object of type %s, got %T", t.Name, value)
	}
	coerced := make(map[string]any, len(fields))
	for name := range fields {
		found := false
		for _, f := range t.InputFields {
			if f.Name == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("field %q is not defined on input type %s", name, t.Name)
		}
	}
	for _, f := range t.InputFields {
		fv, provided := fields[f.Name]
		if !provided {
			if f.HasDefault {
				coerced[f.Name] = f.DefaultValue
				continue
			}
			if f.Type.IsNonNull() {
				return nil, fmt.Errorf("input field %s.%s of required type %s was not provided", t.Name, f.Name, f.Type)
			}
			continue
		}
		cv, err := coerceValue(s, f.Type, fv)
		if err != nil {
			return nil, fmt.Errorf("input field %s.%s: %w", t.Name, f.Name, err)
		}
		coerced[f.Name] = cv
	}
	if t.OneOf {
		if len(coerced) != 1 {
			return nil, fmt.Errorf("oneOf input %s must specify exactly one field", t.Name)
		}
		for _, v := range coerced {
			if v == nil {
				return nil, fmt.Errorf("oneOf input %s field must be non-null", t.Name)
			}
		}
	}
	return coerced, nil
}

// coerceScalar applies input coercion of the built-in scalars. Custom scalars
// pass through unchanged.
func coerceScalar(name string, value any) (any, error) {
	switch name {
	case "Int":
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
		return nil, fmt.Errorf("Int cannot represent %v", value)
	case "Float":
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
		return nil, fmt.Errorf("Float cannot represent %v", value)
	case "String":
		if v, ok := value.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("String cannot represent %v", value)
	case "Boolean":
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent %v", value)
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10), nil
			}
		}
		return nil, fmt.Errorf("ID cannot represent %v", value)
	default:
		return value, nil
	}
}

// valueFromAST converts a parsed constant value to a Go value, substituting
// variables. Unknown variables become nil.
func valueFromAST(value *language.Value, variables map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return variables[value.Raw]
	case language.IntValue:
		if iv, err := strconv.Atoi(value.Raw); err == nil {
			return iv
		}
		return nil
	case language.FloatValue:
		if fv, err := strconv.ParseFloat(value.Raw, 64); err == nil {
			return fv
		}
		return nil
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		items := make([]any, 0, len(value.Children))
		for _, child := range value.Children {
			items = append(items, valueFromAST(child.Value, variables))
		}
		return items
	case language.ObjectValue:
		obj := make(map[string]any, len(value.Children))
		for _, child := range value.Children {
			obj[child.Name] = valueFromAST(child.Value, variables)
		}
		return obj
	default:
		return nil
	}
}

// typeRefFromAST converts a parsed type reference to the schema representation.
func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	var ref *schema.TypeRef
	if t.NamedType != "" {
		ref = schema.NamedType(t.NamedType)
	} else {
		ref = schema.ListType(typeRefFromAST(t.Elem))
	}
	if t.NonNull {
		ref = schema.NonNullType(ref)
	}
	return ref
}
