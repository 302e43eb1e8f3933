package executor

import (
	"context"
)

// Runtime defines the host integration surface for field resolution, abstract
// type resolution, object type checking, and leaf-value serialization used by
// the Executor.
//
// General contract
//   - ResolveField returns the raw value for one field. The raw value may be
//     a plain Go value (immediately available), a Future (not yet available;
//     the Executor awaits it concurrently with sibling fields), or a Stream
//     (an open-ended asynchronous sequence, used for @stream-ed lists and for
//     subscription source events).
//   - Errors returned from any method are converted into located GraphQL
//     errors. If the field's return type is Non-Null, the Executor propagates
//     the null up to the nearest nullable ancestor.
//   - Implementations should be stateless or otherwise concurrency-safe. The
//     Executor calls these methods concurrently for deferred fragments,
//     stream tails, and fields resolved through Futures.
//   - Implementations must not mutate source or args values.
//
// Object/field identifiers
//   - objectType is the GraphQL type name (e.g. "User").
//   - field is the GraphQL field name on that type (e.g. "posts").
//   - For root fields, objectType is the root type name (e.g. "Query").
//   - source is the parent object value (the request root value for root
//     fields).
//   - args is the map of argument names to already-coerced Go values.
type Runtime interface {
	// ResolveField produces the raw value for a field prior to completion.
	// Return (nil, nil) for a GraphQL null on nullable fields.
	ResolveField(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error)

	// ResolveType determines the concrete runtime type name for a value of an
	// abstract GraphQL type (interface or union). The returned name must be a
	// possible type of abstractType in the schema.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// IsTypeOf reports whether value is a valid instance of objectType.
	// Implementations without a predicate for the type must return true.
	IsTypeOf(ctx context.Context, objectType string, value any) (bool, error)

	// SerializeLeaf serializes a scalar or enum value to a JSON-safe Go value.
	// Returning (nil, nil) is a hard completion error, distinct from a
	// resolver producing null.
	SerializeLeaf(ctx context.Context, leafType string, value any) (any, error)
}

// Future is a raw value that is not yet available. Resolvers return one to
// let the Executor progress sibling fields while the value is produced.
type Future interface {
	// Await blocks until the value is available or ctx is done.
	Await(ctx context.Context) (any, error)
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(ctx context.Context) (any, error)

func (f FutureFunc) Await(ctx context.Context) (any, error) { return f(ctx) }

// GoFuture starts fn immediately in its own goroutine and returns a Future
// for its result. Await may be called at most once per returned Future.
func GoFuture(ctx context.Context, fn func(ctx context.Context) (any, error)) Future {
	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()
	return FutureFunc(func(ctx context.Context) (any, error) {
		select {
		case out := <-ch:
			return out.value, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// Stream is an open-ended asynchronous sequence of raw values. A list
// resolver returns one to enable @stream; a subscription root resolver
// returns one as the source event stream.
type Stream interface {
	// Next yields the next value. ok is false when the sequence is exhausted.
	Next(ctx context.Context) (value any, ok bool, err error)

	// Close releases the producer. It must be safe to call after exhaustion
	// and at most once otherwise.
	Close(ctx context.Context) error
}

// SliceStream returns a Stream over the given items. Useful in tests and for
// adapting eagerly produced lists to streamed delivery.
func SliceStream(items ...any) Stream {
	return &sliceStream{items: items}
}

type sliceStream struct {
	items []any
	pos   int
}

func (s *sliceStream) Next(ctx context.Context) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.pos >= len(s.items) {
		return nil, false, nil
	}
	v := s.items[s.pos]
	s.pos++
	return v, true, nil
}

func (s *sliceStream) Close(ctx context.Context) error {
	s.pos = len(s.items)
	return nil
}

// ChanStream adapts a receive channel to a Stream. The sequence ends when the
// channel is closed; Close stops consumption without draining.
func ChanStream[T any](ch <-chan T) Stream {
	return &chanStream[T]{ch: ch, done: make(chan struct{})}
}

type chanStream[T any] struct {
	ch   <-chan T
	done chan struct{}
}

func (s *chanStream[T]) Next(ctx context.Context) (any, bool, error) {
	select {
	case v, ok := <-s.ch:
		if !ok {
			return nil, false, nil
		}
		return v, true, nil
	case <-s.done:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *chanStream[T]) Close(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}
