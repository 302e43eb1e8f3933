package executor

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// FieldResolver produces a field's raw value. The returned value may be a
// Future or a Stream.
type FieldResolver func(ctx context.Context, source any, args map[string]any) (any, error)

// TypeResolver names the concrete object type for a value of an abstract type.
type TypeResolver func(ctx context.Context, value any) (string, error)

// TypePredicate reports whether a value is an instance of an object type.
type TypePredicate func(ctx context.Context, value any) (bool, error)

// LeafSerializer converts a scalar or enum value to a JSON-safe Go value.
type LeafSerializer func(value any) (any, error)

// Resolvers is the map-backed Runtime implementation. Fields without a
// registered resolver fall back to looking the field up on the source value
// (map key, struct field, or niladic method).
type Resolvers struct {
	fields      map[string]FieldResolver
	types       map[string]TypeResolver
	predicates  map[string]TypePredicate
	serializers map[string]LeafSerializer
}

var _ Runtime = (*Resolvers)(nil)

// NewResolvers returns an empty resolver map.
func NewResolvers() *Resolvers {
	return &Resolvers{
		fields:      map[string]FieldResolver{},
		types:       map[string]TypeResolver{},
		predicates:  map[string]TypePredicate{},
		serializers: map[string]LeafSerializer{},
	}
}

// Field registers fn as the resolver for objectType.field.
func (r *Resolvers) Field(objectType, field string, fn FieldResolver) *Resolvers {
	r.fields[objectType+"."+field] = fn
	return r
}

// Type registers fn as the type resolver for an interface or union.
func (r *Resolvers) Type(abstractType string, fn TypeResolver) *Resolvers {
	r.types[abstractType] = fn
	return r
}

// TypeOf registers an isTypeOf predicate for an object type.
func (r *Resolvers) TypeOf(objectType string, fn TypePredicate) *Resolvers {
	r.predicates[objectType] = fn
	return r
}

// Scalar registers a serializer for a scalar or enum type, overriding the
// built-in coercion.
func (r *Resolvers) Scalar(name string, fn LeafSerializer) *Resolvers {
	r.serializers[name] = fn
	return r
}

func (r *Resolvers) ResolveField(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if fn, ok := r.fields[objectType+"."+field]; ok {
		return fn(ctx, source, args)
	}
	return DefaultFieldResolver(ctx, field, source, args)
}

func (r *Resolvers) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if fn, ok := r.types[abstractType]; ok {
		return fn(ctx, value)
	}
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("no type resolver registered for abstract type %s", abstractType)
}

func (r *Resolvers) IsTypeOf(ctx context.Context, objectType string, value any) (bool, error) {
	if fn, ok := r.predicates[objectType]; ok {
		return fn(ctx, value)
	}
	return true, nil
}

func (r *Resolvers) SerializeLeaf(ctx context.Context, leafType string, value any) (any, error) {
	if fn, ok := r.serializers[leafType]; ok {
		return fn(value)
	}
	return SerializeBuiltin(leafType, value)
}

// DefaultFieldResolver looks the field up on the source value: map key,
// exported struct field of the same name (case-insensitive), or niladic
// method. A resolved func() any is invoked.
func DefaultFieldResolver(ctx context.Context, field string, source any, args map[string]any) (any, error) {
	if source == nil {
		return nil, nil
	}
	if m, ok := source.(map[string]any); ok {
		v := m[field]
		if fn, ok := v.(func() any); ok {
			return fn(), nil
		}
		return v, nil
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			if strings.EqualFold(rt.Field(i).Name, field) && rt.Field(i).IsExported() {
				return rv.Field(i).Interface(), nil
			}
		}
	}
	mv := reflect.ValueOf(source)
	for i := 0; i < mv.NumMethod(); i++ {
		m := mv.Type().Method(i)
		if strings.EqualFold(m.Name, field) && m.Type.NumIn() == 1 && m.Type.NumOut() == 1 {
			return mv.Method(i).Call(nil)[0].Interface(), nil
		}
	}
	return nil, nil
}

// SerializeBuiltin serializes values of the built-in scalar types; values of
// other leaf types (custom scalars, enums) pass through unchanged. Non-nil
// pointers serialize as their element.
func SerializeBuiltin(leafType string, value any) (any, error) {
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		value = rv.Elem().Interface()
	}
	switch leafType {
	case "Int":
		return serializeInt(value)
	case "Float":
		return serializeFloat(value)
	case "String":
		return serializeString(value)
	case "Boolean":
		return serializeBoolean(value)
	case "ID":
		return serializeID(value)
	default:
		return value, nil
	}
}

func serializeInt(value any) (any, error) {
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
	case float32:
		if v == float32(int(v)) {
			return int(v), nil
		}
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		if iv, err := strconv.Atoi(v); err == nil {
			return iv, nil
		}
	}
	return nil, fmt.Errorf("Int cannot represent value: %v (%T)", value, value)
}

func serializeFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if fv, err := strconv.ParseFloat(v, 64); err == nil {
			return fv, nil
		}
	}
	return nil, fmt.Errorf("Float cannot represent value: %v (%T)", value, value)
}

func serializeString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("String cannot represent value: %v (%T)", value, value)
}

func serializeBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	}
	return nil, fmt.Errorf("Boolean cannot represent value: %v (%T)", value, value)
}

func serializeID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, fmt.Errorf("ID cannot represent value: %v (%T)", value, value)
}
