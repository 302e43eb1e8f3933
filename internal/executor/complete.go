package executor

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	language "github.com/hanpama/graphexec/internal/language"
	schema "github.com/hanpama/graphexec/internal/schema"
)

// completeValue drives a raw resolver value through the completion state
// machine: Non-Null unwrap, list recursion, leaf serialization, abstract type
// resolution, object sub-execution. Errors are returned for the field-level
// handler; nothing is recorded here.
func (ec *executionContext) completeValue(unit *payloadUnit, returnType *schema.TypeRef, nodes []*language.Field, path Path, value any) (any, error) {
	if returnType.IsNonNull() {
		completed, err := ec.completeValue(unit, returnType.Unwrap(), nodes, path, value)
		if err != nil {
			return nil, err
		}
		if completed == nil {
			return nil, fmt.Errorf("Cannot return null for non-nullable field %s", path)
		}
		return completed, nil
	}

	if isNullish(value) {
		return nil, nil
	}

	if returnType.IsList() {
		return ec.completeListValue(unit, returnType, nodes, path, value)
	}

	named := ec.schema.GetType(returnType.GetNamedType())
	if named == nil {
		return nil, fmt.Errorf("schema does not define type %s", returnType.GetNamedType())
	}

	switch named.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		return ec.completeLeafValue(named, value)
	case schema.TypeKindObject:
		return ec.completeObjectValue(unit, named, nodes, path, value)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return ec.completeAbstractValue(unit, named, nodes, path, value)
	default:
		return nil, fmt.Errorf("cannot complete value of non-output type %s", named.Name)
	}
}

// completeLeafValue serializes a scalar or enum value. A nil serialization
// result is a hard error, distinct from a resolver producing null.
func (ec *executionContext) completeLeafValue(leafType *schema.Type, value any) (any, error) {
	serialized, err := ec.runtime.SerializeLeaf(ec.ctx, leafType.Name, value)
	if err != nil {
		return nil, err
	}
	if serialized == nil {
		return nil, fmt.Errorf("cannot serialize value as %s: %v", leafType.Name, value)
	}
	if leafType.Kind == schema.TypeKindEnum {
		name, ok := serialized.(string)
		if !ok || !leafType.HasEnumValue(name) {
			return nil, fmt.Errorf("enum %s cannot represent value: %v", leafType.Name, value)
		}
	}
	return serialized, nil
}

// completeListValue completes each item of a list value against the item
// type. Future items settle concurrently like sibling fields. A Stream raw
// value on a field without an active @stream is drained in full.
func (ec *executionContext) completeListValue(unit *payloadUnit, listType *schema.TypeRef, nodes []*language.Field, path Path, value any) (any, error) {
	if s, ok := value.(Stream); ok {
		drained, err := drainStream(ec.ctx, s)
		if err != nil {
			return nil, err
		}
		value = drained
	}
	items, err := toSlice(value)
	if err != nil {
		return nil, fmt.Errorf("expected a list at %s: %w", path, err)
	}
	itemType := listType.Unwrap()

	completed := make([]any, len(items))
	var wg sync.WaitGroup
	var propMu sync.Mutex
	var propagated error

	completeItem := func(i int, item any) error {
		itemPath := path.With(i)
		v, err := ec.completeValue(unit, itemType, nodes, itemPath, item)
		if err != nil {
			v, herr := ec.handleFieldError(unit, itemType, itemPath, nodes, err)
			if herr != nil {
				return herr
			}
			completed[i] = v
			return nil
		}
		completed[i] = v
		return nil
	}

	for i, item := range items {
		if fut, ok := item.(Future); ok {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				raw, err := fut.Await(ec.ctx)
				if err != nil {
					itemPath := path.With(i)
					v, herr := ec.handleFieldError(unit, itemType, itemPath, nodes, err)
					if herr != nil {
						propMu.Lock()
						if propagated == nil {
							propagated = herr
						}
						propMu.Unlock()
						return
					}
					completed[i] = v
					return
				}
				if err := completeItem(i, raw); err != nil {
					propMu.Lock()
					if propagated == nil {
						propagated = err
					}
					propMu.Unlock()
				}
			}(i)
			continue
		}
		if err := completeItem(i, item); err != nil {
			wg.Wait()
			return nil, err
		}
	}

	wg.Wait()
	if propagated != nil {
		return nil, propagated
	}
	return completed, nil
}

// completeObjectValue checks the value against the object type, executes the
// merged sub-selections, and registers any deferred fragments discovered in
// them. Registration happens before the enclosing payload completes so the
// pending count never reads zero while work remains.
func (ec *executionContext) completeObjectValue(unit *payloadUnit, objectType *schema.Type, nodes []*language.Field, path Path, value any) (any, error) {
	ok, err := ec.runtime.IsTypeOf(ec.ctx, objectType.Name, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("value is not an instance of type %s", objectType.Name)
	}

	grouped, defers := ec.collectSubfields(objectType, nodes)
	data, err := ec.executeGrouped(unit, objectType, grouped, value, path, false)
	if err != nil {
		return nil, err
	}
	for _, dg := range defers {
		ec.pub.registerDefer(unit, dg, objectType, value, path)
	}
	return data, nil
}

// completeAbstractValue resolves the concrete object type of a value typed as
// an interface or union, validates membership, and completes it as an object.
func (ec *executionContext) completeAbstractValue(unit *payloadUnit, abstractType *schema.Type, nodes []*language.Field, path Path, value any) (any, error) {
	typeName, err := ec.runtime.ResolveType(ec.ctx, abstractType.Name, value)
	if err != nil {
		return nil, err
	}
	concrete := ec.schema.GetType(typeName)
	if concrete == nil {
		return nil, fmt.Errorf("abstract type %s resolved to undefined type %q", abstractType.Name, typeName)
	}
	if concrete.Kind != schema.TypeKindObject {
		return nil, fmt.Errorf("abstract type %s resolved to non-object type %s", abstractType.Name, typeName)
	}
	if !ec.schema.IsSubType(abstractType.Name, concrete) {
		return nil, fmt.Errorf("type %s is not a possible type of %s", typeName, abstractType.Name)
	}
	return ec.completeObjectValue(unit, concrete, nodes, path, value)
}

// completeStreamField completes a list field with an active @stream: the
// first initialCount items go into the initial segment and the remainder is
// handed to a stream tail delivering one patch per item.
func (ec *executionContext) completeStreamField(unit *payloadUnit, fieldType *schema.TypeRef, nodes []*language.Field, path Path, raw any, label string, initialCount int) (any, error) {
	listType := fieldType
	if listType.IsNonNull() {
		listType = listType.Unwrap()
	}
	itemType := listType.Unwrap()

	if isNullish(raw) {
		if fieldType.IsNonNull() {
			return nil, fmt.Errorf("Cannot return null for non-nullable field %s", path)
		}
		return nil, nil
	}

	source, ok := raw.(Stream)
	if !ok {
		items, err := toSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("expected a list or stream at %s: %w", path, err)
		}
		source = SliceStream(items...)
	}

	initial := make([]any, 0, initialCount)
	for i := 0; i < initialCount; i++ {
		item, more, err := source.Next(ec.ctx)
		if err != nil {
			_ = source.Close(ec.ctx)
			itemPath := path.With(i)
			if _, herr := ec.handleFieldError(unit, itemType, itemPath, nodes, err); herr != nil {
				return nil, herr
			}
			initial = append(initial, nil)
			return initial, nil
		}
		if !more {
			_ = source.Close(ec.ctx)
			return initial, nil
		}
		if fut, isFut := item.(Future); isFut {
			item, err = fut.Await(ec.ctx)
			if err != nil {
				_ = source.Close(ec.ctx)
				itemPath := path.With(i)
				if _, herr := ec.handleFieldError(unit, itemType, itemPath, nodes, err); herr != nil {
					return nil, herr
				}
				initial = append(initial, nil)
				return initial, nil
			}
		}
		itemPath := path.With(i)
		v, err := ec.completeValue(unit, itemType, nodes, itemPath, item)
		if err != nil {
			v, herr := ec.handleFieldError(unit, itemType, itemPath, nodes, err)
			if herr != nil {
				_ = source.Close(ec.ctx)
				return nil, herr
			}
			initial = append(initial, v)
			continue
		}
		initial = append(initial, v)
	}

	ec.pub.startStreamTail(unit, source, itemType, nodes, path, label, initialCount)
	return initial, nil
}

// drainStream collects every remaining value of a stream.
func drainStream(ctx context.Context, s Stream) ([]any, error) {
	var items []any
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		if !ok {
			_ = s.Close(ctx)
			return items, nil
		}
		items = append(items, v)
	}
}

// toSlice normalizes list raw values: []any passes through, other slice and
// array kinds are converted through reflection.
func toSlice(value any) ([]any, error) {
	if items, ok := value.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("got %T", value)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
