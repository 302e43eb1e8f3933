package executor

import (
	"context"
	"fmt"

	language "github.com/hanpama/graphexec/internal/language"
	schema "github.com/hanpama/graphexec/internal/schema"
)

// CreateSourceEventStream resolves a subscription operation's root field to
// its source event stream. The root resolver must return a Stream (possibly
// through a Future).
func (e *Executor) CreateSourceEventStream(ctx context.Context, req Request) (Stream, error) {
	sub, err := e.prepareSubscription(ctx, req)
	if err != nil {
		return nil, err
	}
	return sub.source, nil
}

// Subscribe starts a subscription: the source event stream is resolved once
// and each event is executed as a single-response operation with the event as
// the root field value.
func (e *Executor) Subscribe(ctx context.Context, req Request) (*SubscriptionStream, error) {
	return e.prepareSubscription(ctx, req)
}

// SubscriptionStream yields one RequestResult per source event.
type SubscriptionStream struct {
	exec         *Executor
	source       Stream
	fragments    map[string]*language.FragmentDefinition
	vars         map[string]any
	rootType     *schema.Type
	selectionSet language.SelectionSet
	err          error
	done         bool
}

func (e *Executor) prepareSubscription(ctx context.Context, req Request) (*SubscriptionStream, error) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return nil, fmt.Errorf("operation %q is not defined in the document", req.OperationName)
	}
	if op.Operation != language.Subscription {
		return nil, fmt.Errorf("operation %q is not a subscription", req.OperationName)
	}
	rootType := e.schema.GetSubscriptionType()
	if rootType == nil {
		return nil, fmt.Errorf("schema does not define a subscription root type")
	}
	vars, err := coerceVariableValues(e.schema, op, req.Variables)
	if err != nil {
		return nil, err
	}

	ec := &executionContext{
		ctx:            ctx,
		schema:         e.schema,
		runtime:        e.runtime,
		fragments:      language.FragmentMap(doc),
		variableValues: vars,
		opts:           e.opts,
		subfieldCache:  map[subfieldKey]*collectedSubfields{},
		argCache:       map[*language.Field]map[string]any{},
	}
	grouped, _ := ec.collectFields(rootType, op.SelectionSet)
	groups := grouped.orderedGroups()
	if len(groups) != 1 {
		return nil, fmt.Errorf("subscription operations must select exactly one root field, got %d", len(groups))
	}
	group := groups[0]
	fieldDef := rootType.GetField(group.Fields[0].Name)
	if fieldDef == nil {
		return nil, fmt.Errorf("type %s has no field %q", rootType.Name, group.Fields[0].Name)
	}
	args, err := coerceArgumentValues(e.schema, fieldDef, group.Fields[0], vars)
	if err != nil {
		return nil, err
	}

	raw, err := e.runtime.ResolveField(ctx, rootType.Name, fieldDef.Name, req.RootValue, args)
	if err != nil {
		return nil, err
	}
	if fut, ok := raw.(Future); ok {
		raw, err = fut.Await(ctx)
		if err != nil {
			return nil, err
		}
	}
	source, ok := raw.(Stream)
	if !ok {
		return nil, fmt.Errorf("subscription field %s.%s did not resolve to an event stream", rootType.Name, fieldDef.Name)
	}

	return &SubscriptionStream{
		exec:         e,
		source:       source,
		fragments:    ec.fragments,
		vars:         vars,
		rootType:     rootType,
		selectionSet: op.SelectionSet,
	}, nil
}

// Next blocks for the next source event and executes it. ok is false when the
// source is exhausted, errored, or the subscription was closed; Err reports a
// source error afterwards.
func (s *SubscriptionStream) Next(ctx context.Context) (*RequestResult, bool) {
	if s.done {
		return nil, false
	}
	event, ok, err := s.source.Next(ctx)
	if err != nil {
		s.err = err
		s.done = true
		return nil, false
	}
	if !ok {
		s.done = true
		return nil, false
	}
	return s.executeEvent(ctx, event), true
}

// Err returns the source stream error that terminated the subscription, if any.
func (s *SubscriptionStream) Err() error { return s.err }

// Close releases the source event stream.
func (s *SubscriptionStream) Close(ctx context.Context) error {
	s.done = true
	return s.source.Close(ctx)
}

// executeEvent runs the subscription selection set against one event. The
// event value stands in as the root field's raw value; no root resolver call
// is made.
func (s *SubscriptionStream) executeEvent(ctx context.Context, event any) *RequestResult {
	wctx, cancel := context.WithCancel(ctx)
	ec := &executionContext{
		ctx:            wctx,
		schema:         s.exec.schema,
		runtime:        s.exec.runtime,
		fragments:      s.fragments,
		variableValues: s.vars,
		opts:           s.exec.opts,
		subfieldCache:  map[subfieldKey]*collectedSubfields{},
		argCache:       map[*language.Field]map[string]any{},
	}
	ec.pub = newPublisher(ec, cancel)
	root := ec.pub.root

	grouped, defers := ec.collectFields(s.rootType, s.selectionSet)
	group := grouped.orderedGroups()[0]
	fieldDef := s.rootType.GetField(group.Fields[0].Name)
	fieldPath := Path{}.With(group.ResponseKey)

	var data any
	value, err := ec.completeFieldValue(root, fieldDef, group, fieldPath, event)
	if err != nil {
		value, err = ec.handleFieldError(root, fieldDef.Type, fieldPath, group.Fields, err)
	}
	if err != nil {
		ec.pub.nullify(nil)
		data = nil
	} else {
		m := NewOrderedMap()
		m.Set(group.ResponseKey, value)
		data = m
		for _, dg := range defers {
			ec.pub.registerDefer(root, dg, s.rootType, event, nil)
		}
	}

	patches, more := ec.pub.finishInitial()
	if !more {
		cancel()
		return &RequestResult{Result: &Result{Data: data, Errors: root.takeErrors()}}
	}
	if s.exec.opts.bundling != nil {
		patches = newBundledStream(patches, s.exec.opts.bundling)
	}
	hasNext := true
	return &RequestResult{
		Result:  &Result{Data: data, Errors: root.takeErrors(), HasNext: &hasNext},
		Patches: patches,
	}
}
