package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	language "github.com/hanpama/graphexec/internal/language"
	schema "github.com/hanpama/graphexec/internal/schema"
)

// Executor executes parsed GraphQL requests against a Schema through a
// Runtime. It is safe for concurrent use; per-request state lives in an
// executionContext.
type Executor struct {
	schema  *schema.Schema
	runtime Runtime
	opts    options
}

type options struct {
	disableIncremental bool
	bundling           *bundleConfig
	querySubscriptions bool
}

type bundleConfig struct {
	maxChunkSize int
	maxInterval  time.Duration
}

// Option configures an Executor.
type Option func(*options)

// WithoutIncremental disables @defer and @stream. Both directives become
// inert: deferred fragments are inlined and streamed lists are delivered in
// full with the initial result.
func WithoutIncremental() Option {
	return func(o *options) { o.disableIncremental = true }
}

// WithBatching coalesces consecutive stream-item patches into chunked patches
// carrying atIndex. A chunk is flushed when it reaches maxChunkSize items or
// maxInterval has elapsed since its first item. Experimental.
func WithBatching(maxChunkSize int, maxInterval time.Duration) Option {
	return func(o *options) {
		if maxChunkSize < 1 {
			maxChunkSize = 1
		}
		o.bundling = &bundleConfig{maxChunkSize: maxChunkSize, maxInterval: maxInterval}
	}
}

// WithQueryAlgorithmForSubscriptions lets ExecuteRequest run subscription
// operations as single-response queries instead of rejecting them. Intended
// for transports that cannot hold an event stream open.
func WithQueryAlgorithmForSubscriptions() Option {
	return func(o *options) { o.querySubscriptions = true }
}

// New returns an Executor for the schema and runtime.
func New(s *schema.Schema, rt Runtime, opts ...Option) *Executor {
	e := &Executor{schema: s, runtime: rt}
	for _, opt := range opts {
		opt(&e.opts)
	}
	return e
}

// Schema returns the executable schema.
func (e *Executor) Schema() *schema.Schema { return e.schema }

// Request is one GraphQL request: the source document plus operation
// selection, variables, and the root value handed to root field resolvers.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	RootValue     any
	Extensions    map[string]any
}

// executionContext carries the per-request state shared by field collection,
// value completion, and incremental delivery.
type executionContext struct {
	ctx            context.Context
	schema         *schema.Schema
	runtime        Runtime
	fragments      map[string]*language.FragmentDefinition
	variableValues map[string]any
	opts           options
	pub            *publisher

	mu            sync.Mutex
	subfieldCache map[subfieldKey]*collectedSubfields
	argCache      map[*language.Field]map[string]any
}

// ExecuteRequest executes the request. When the operation contains active
// @defer or @stream directives the returned RequestResult carries a
// PatchStream delivering the remaining payloads; otherwise Patches is nil and
// Result is the complete response.
func (e *Executor) ExecuteRequest(ctx context.Context, req Request) *RequestResult {
	doc, op, vars, errResult := e.prepare(req)
	if errResult != nil {
		return &RequestResult{Result: errResult}
	}

	var rootType *schema.Type
	serial := false
	switch op.Operation {
	case language.Mutation:
		rootType = e.schema.GetMutationType()
		serial = true
	case language.Subscription:
		if !e.opts.querySubscriptions {
			return &RequestResult{Result: requestErrorResult("subscription operations must be executed through Subscribe")}
		}
		rootType = e.schema.GetSubscriptionType()
	default:
		rootType = e.schema.GetQueryType()
	}
	if rootType == nil {
		return &RequestResult{Result: requestErrorResult("schema does not define a root type for %s operations", op.Operation)}
	}

	wctx, cancel := context.WithCancel(ctx)
	ec := &executionContext{
		ctx:            wctx,
		schema:         e.schema,
		runtime:        e.runtime,
		fragments:      language.FragmentMap(doc),
		variableValues: vars,
		opts:           e.opts,
		subfieldCache:  map[subfieldKey]*collectedSubfields{},
		argCache:       map[*language.Field]map[string]any{},
	}
	ec.pub = newPublisher(ec, cancel)

	data, errs := ec.executeRoot(rootType, op.SelectionSet, req.RootValue, serial)

	patches, more := ec.pub.finishInitial()
	if !more {
		cancel()
		return &RequestResult{Result: &Result{Data: data, Errors: errs, Extensions: nil}}
	}

	if e.opts.bundling != nil {
		patches = newBundledStream(patches, e.opts.bundling)
	}
	hasNext := true
	result := &Result{Data: data, Errors: errs, HasNext: &hasNext}
	return &RequestResult{Result: result, Patches: patches}
}

// ExecuteRequestSync executes the request with incremental delivery disabled
// and returns the single complete result.
func (e *Executor) ExecuteRequestSync(ctx context.Context, req Request) *Result {
	clone := *e
	clone.opts.disableIncremental = true
	clone.opts.bundling = nil
	rr := clone.ExecuteRequest(ctx, req)
	return rr.Result
}

// executeRoot runs the root selection set and absorbs root-level non-null
// propagation: a propagated null at the root nulls the entire data member.
func (ec *executionContext) executeRoot(rootType *schema.Type, selectionSet language.SelectionSet, rootValue any, serial bool) (any, []GraphQLError) {
	grouped, defers := ec.collectFields(rootType, selectionSet)
	root := ec.pub.root

	data, err := ec.executeGrouped(root, rootType, grouped, rootValue, nil, serial)
	if err != nil {
		ec.pub.nullify(nil)
		return nil, root.takeErrors()
	}
	for _, dg := range defers {
		ec.pub.registerDefer(root, dg, rootType, rootValue, nil)
	}
	return data, root.takeErrors()
}

// prepare parses the document, selects the operation, and coerces variables.
// A non-nil Result reports a request error.
func (e *Executor) prepare(req Request) (*language.QueryDocument, *language.OperationDefinition, map[string]any, *Result) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return nil, nil, nil, requestErrorResult("%s", err.Error())
	}
	// ForName("") falls back to the sole operation, so the multi-operation
	// case must be rejected before the lookup.
	if req.OperationName == "" && len(doc.Operations) > 1 {
		return nil, nil, nil, requestErrorResult("operation name is required when the document defines multiple operations")
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return nil, nil, nil, requestErrorResult("document does not contain an anonymous operation")
		}
		return nil, nil, nil, requestErrorResult("operation %q is not defined in the document", req.OperationName)
	}
	vars, err := coerceVariableValues(e.schema, op, req.Variables)
	if err != nil {
		return nil, nil, nil, requestErrorResult("%s", err.Error())
	}
	return doc, op, vars, nil
}

func requestErrorResult(format string, args ...any) *Result {
	return &Result{Errors: []GraphQLError{{Message: fmt.Sprintf(format, args...)}}}
}

// fieldSlot is one response key's completion outcome in a selection set.
type fieldSlot struct {
	key   string
	value any
}

// executeGrouped executes one grouped field set against an object type.
// Plain values complete inline in declaration order; Future values complete
// concurrently and join before the map is assembled. In serial mode (mutation
// roots) every field, Future or not, settles before the next one starts.
func (ec *executionContext) executeGrouped(
	unit *payloadUnit,
	objectType *schema.Type,
	grouped *groupedFieldSet,
	source any,
	path Path,
	serial bool,
) (*OrderedMap, error) {
	groups := grouped.orderedGroups()
	slots := make([]fieldSlot, len(groups))

	var wg sync.WaitGroup
	var propMu sync.Mutex
	var propagated error

	setPropagated := func(err error) {
		propMu.Lock()
		if propagated == nil {
			propagated = err
		}
		propMu.Unlock()
	}

	for i, group := range groups {
		slots[i].key = group.ResponseKey
		node := group.Fields[0]
		fieldPath := path.With(group.ResponseKey)

		if node.Name == "__typename" {
			slots[i].value = objectType.Name
			continue
		}
		fieldDef := objectType.GetField(node.Name)
		if fieldDef == nil {
			slots[i].value = nil
			continue
		}

		raw, err := ec.resolveField(objectType, fieldDef, group, source)
		if err != nil {
			v, herr := ec.handleFieldError(unit, fieldDef.Type, fieldPath, group.Fields, err)
			if herr != nil {
				return nil, herr
			}
			slots[i].value = v
			continue
		}

		if fut, ok := raw.(Future); ok && !serial {
			wg.Add(1)
			go func(i int, group *fieldGroup, fieldDef *schema.Field, fieldPath Path) {
				defer wg.Done()
				v, err := ec.awaitAndComplete(unit, fieldDef, group, fieldPath, fut)
				if err != nil {
					setPropagated(err)
					return
				}
				slots[i].value = v
			}(i, group, fieldDef, fieldPath)
			continue
		}

		if fut, ok := raw.(Future); ok {
			v, err := ec.awaitAndComplete(unit, fieldDef, group, fieldPath, fut)
			if err != nil {
				return nil, err
			}
			slots[i].value = v
			continue
		}

		v, err := ec.completeFieldValue(unit, fieldDef, group, fieldPath, raw)
		if err != nil {
			v, herr := ec.handleFieldError(unit, fieldDef.Type, fieldPath, group.Fields, err)
			if herr != nil {
				return nil, herr
			}
			slots[i].value = v
			continue
		}
		slots[i].value = v
	}

	wg.Wait()
	if propagated != nil {
		return nil, propagated
	}

	result := NewOrderedMap()
	for _, slot := range slots {
		result.Set(slot.key, slot.value)
	}
	return result, nil
}

// resolveField coerces the node's arguments and invokes the runtime resolver.
func (ec *executionContext) resolveField(objectType *schema.Type, fieldDef *schema.Field, group *fieldGroup, source any) (any, error) {
	args, err := ec.argumentValues(fieldDef, group.Fields[0])
	if err != nil {
		return nil, err
	}
	return ec.runtime.ResolveField(ec.ctx, objectType.Name, fieldDef.Name, source, args)
}

// awaitAndComplete settles a Future raw value and completes it. The returned
// error, if any, is a propagation signal for the enclosing selection set.
func (ec *executionContext) awaitAndComplete(unit *payloadUnit, fieldDef *schema.Field, group *fieldGroup, fieldPath Path, fut Future) (any, error) {
	raw, err := fut.Await(ec.ctx)
	if err == nil {
		raw2, cerr := ec.completeFieldValue(unit, fieldDef, group, fieldPath, raw)
		if cerr == nil {
			return raw2, nil
		}
		err = cerr
	}
	return ec.handleFieldError(unit, fieldDef.Type, fieldPath, group.Fields, err)
}

// completeFieldValue completes a field's raw value, routing list fields with
// an active @stream through streamed completion.
func (ec *executionContext) completeFieldValue(unit *payloadUnit, fieldDef *schema.Field, group *fieldGroup, fieldPath Path, raw any) (any, error) {
	node := group.Fields[0]
	if label, initialCount, ok := ec.streamParams(node); ok && isListType(fieldDef.Type) {
		return ec.completeStreamField(unit, fieldDef.Type, group.Fields, fieldPath, raw, label, initialCount)
	}
	return ec.completeValue(unit, fieldDef.Type, group.Fields, fieldPath, raw)
}

// isListType reports whether the type is a list, ignoring a non-null wrapper.
func isListType(t *schema.TypeRef) bool {
	if t.IsNonNull() {
		t = t.Unwrap()
	}
	return t.IsList()
}

// propagatedNull signals that a non-null field produced null and the error
// was already recorded at its origin. It travels up the completion stack
// until a nullable position absorbs it.
type propagatedNull struct {
	cause GraphQLError
}

func (p *propagatedNull) Error() string { return p.cause.Message }

// handleFieldError converts an execution error at a field position. Fresh
// errors are located and recorded on the payload unit exactly once; a
// propagation signal passes through unrecorded. Non-null positions keep
// propagating, nullable positions absorb the null.
func (ec *executionContext) handleFieldError(unit *payloadUnit, returnType *schema.TypeRef, path Path, nodes []*language.Field, err error) (any, error) {
	var pn *propagatedNull
	if !errors.As(err, &pn) {
		gqlErr := locatedError(err, nodes, path)
		unit.addError(gqlErr)
		pn = &propagatedNull{cause: gqlErr}
	}
	if returnType.IsNonNull() {
		return nil, pn
	}
	ec.pub.nullify(path)
	return nil, nil
}

// locatedError builds a GraphQLError with the field nodes' source locations
// and the response path. An error that already is a GraphQLError keeps its
// message and extensions.
func locatedError(err error, nodes []*language.Field, path Path) GraphQLError {
	var gqlErr GraphQLError
	if errors.As(err, &gqlErr) {
		gqlErr.Path = path
	} else {
		gqlErr = GraphQLError{Message: err.Error(), Path: path}
	}
	if len(gqlErr.Locations) == 0 {
		for _, node := range nodes {
			if node.Position != nil {
				gqlErr.Locations = append(gqlErr.Locations, Location{Line: node.Position.Line, Column: node.Position.Column})
			}
		}
	}
	return gqlErr
}

// isNullish reports whether a raw resolver value is a GraphQL null. Typed
// nil pointers and nil slices count; resolvers routinely return them.
func isNullish(value any) bool {
	if value == nil {
		return true
	}
	switch rv := reflect.ValueOf(value); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
