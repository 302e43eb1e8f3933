package executor

import (
	"context"
	"sync"

	language "github.com/hanpama/graphexec/internal/language"
	schema "github.com/hanpama/graphexec/internal/schema"
)

// payloadUnit is one deliverable of a request: the initial result (root unit),
// a deferred fragment, or a streamed list item. Field errors encountered while
// producing a unit accumulate on it and ship with its patch.
type payloadUnit struct {
	label      string
	path       Path
	parent     *payloadUnit
	streamItem bool

	mu     sync.Mutex
	errors []GraphQLError
}

func (u *payloadUnit) addError(err GraphQLError) {
	u.mu.Lock()
	u.errors = append(u.errors, err)
	u.mu.Unlock()
}

func (u *payloadUnit) takeErrors() []GraphQLError {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.errors
}

// readyPayload is a completed unit waiting for its parent to flush.
type readyPayload struct {
	unit *payloadUnit
	data any
}

// publisher sequences payload units into patches. A unit's patch is emitted
// only after its parent's payload has been delivered, so consumers always see
// a parent before any of its children. Units addressed into a subtree that
// was nullified by non-null propagation are dropped.
type publisher struct {
	ec     *executionContext
	cancel context.CancelFunc

	mu        sync.Mutex
	root      *payloadUnit
	stream    *PatchStream
	pending   int
	queued    map[*payloadUnit][]*readyPayload
	flushed   map[*payloadUnit]bool
	failed    map[*payloadUnit]bool
	iterators map[Stream]struct{}
	nullified []Path
	started   bool
	startedCh chan struct{}
	ended     bool

	// lastHasNext remembers whether the most recent emission promised more.
	// If delivery ends while it is still true, a bare terminal patch with
	// hasNext:false closes the sequence.
	lastHasNext bool
}

func newPublisher(ec *executionContext, cancel context.CancelFunc) *publisher {
	p := &publisher{
		ec:        ec,
		cancel:    cancel,
		root:      &payloadUnit{},
		queued:    map[*payloadUnit][]*readyPayload{},
		flushed:   map[*payloadUnit]bool{},
		failed:    map[*payloadUnit]bool{},
		iterators: map[Stream]struct{}{},
		startedCh: make(chan struct{}),
	}
	p.stream = newPatchStream(p.stop)
	return p
}

// register adds one pending unit under parent.
func (p *publisher) register(parent *payloadUnit, label string, path Path) *payloadUnit {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending++
	return &payloadUnit{label: label, path: path, parent: parent}
}

// registerItem adds one pending streamed-list-item unit under parent.
func (p *publisher) registerItem(parent *payloadUnit, label string, path Path) *payloadUnit {
	unit := p.register(parent, label, path)
	unit.streamItem = true
	return unit
}

// registerDefer schedules a deferred group for concurrent execution. The unit
// is registered before the parent's payload completes, keeping the pending
// count accurate.
func (p *publisher) registerDefer(parent *payloadUnit, dg *deferredGroup, objectType *schema.Type, source any, path Path) {
	p.mu.Lock()
	skip := p.ended || p.hasNullifiedPrefixLocked(path)
	p.mu.Unlock()
	if skip {
		return
	}
	unit := p.register(parent, dg.label, path)

	go func() {
		data, err := p.ec.executeGrouped(unit, objectType, dg.fields, source, path, false)
		if err != nil {
			// Propagation reached the payload root: this payload delivers
			// data null and its descendants are abandoned.
			p.complete(unit, nil, true)
			return
		}
		for _, nested := range dg.defers {
			p.registerDefer(unit, nested, objectType, source, path)
		}
		p.complete(unit, data, false)
	}()
}

// complete finishes a unit. Its patch is emitted now if the parent was
// already delivered, otherwise it queues until the parent flushes. failed
// marks a terminal payload whose descendants must be dropped.
func (p *publisher) complete(unit *payloadUnit, data any, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--

	switch {
	case p.ended:
	case p.failed[unit.parent] || p.hasNullifiedPrefixLocked(unit.path):
		p.dropSubtreeLocked(unit)
	default:
		if failed {
			p.failed[unit] = true
		}
		rp := &readyPayload{unit: unit, data: data}
		if p.flushed[unit.parent] {
			p.emitLocked(rp)
		} else {
			p.queued[unit.parent] = append(p.queued[unit.parent], rp)
		}
	}
	p.maybeEndLocked()
}

// finishInitial transitions delivery from the initial result to the patch
// phase. It reports whether any incremental work exists; when it does,
// payloads that finished before the initial result flush immediately.
func (p *publisher) finishInitial() (*PatchStream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	close(p.startedCh)

	if p.hasNullifiedPrefixLocked(nil) {
		p.ended = true
		return nil, false
	}

	p.flushed[p.root] = true
	emits := p.collectFlushableLocked(p.root)
	if len(emits) == 0 && !p.hasWorkLocked() {
		p.ended = true
		return nil, false
	}

	p.lastHasNext = true
	for i, rp := range emits {
		p.pushPatchLocked(rp, i < len(emits)-1 || p.hasWorkLocked())
	}
	p.maybeEndLocked()
	p.stream.release()
	return p.stream, true
}

// emitLocked pushes a payload's patch and transitively flushes descendants
// that were queued behind it.
func (p *publisher) emitLocked(first *readyPayload) {
	p.flushed[first.unit] = true
	emits := []*readyPayload{first}
	if p.failed[first.unit] {
		p.dropChildrenLocked(first.unit)
	} else {
		emits = append(emits, p.collectFlushableLocked(first.unit)...)
	}
	for i, rp := range emits {
		p.pushPatchLocked(rp, i < len(emits)-1 || p.hasWorkLocked())
	}
}

// collectFlushableLocked removes and returns every queued payload reachable
// from unit, in parent-before-child order, marking each as flushed.
func (p *publisher) collectFlushableLocked(unit *payloadUnit) []*readyPayload {
	children := p.queued[unit]
	delete(p.queued, unit)
	var out []*readyPayload
	for _, rp := range children {
		p.flushed[rp.unit] = true
		out = append(out, rp)
		if p.failed[rp.unit] {
			p.dropChildrenLocked(rp.unit)
			continue
		}
		out = append(out, p.collectFlushableLocked(rp.unit)...)
	}
	return out
}

func (p *publisher) pushPatchLocked(rp *readyPayload, hasNext bool) {
	path := rp.unit.path
	if path == nil {
		path = Path{}
	}
	p.lastHasNext = hasNext
	p.stream.push(&Patch{
		Data:       rp.data,
		Path:       path,
		Label:      rp.unit.label,
		HasNext:    hasNext,
		Errors:     rp.unit.takeErrors(),
		streamItem: rp.unit.streamItem,
	})
}

// dropSubtreeLocked discards a unit and everything queued beneath it.
func (p *publisher) dropSubtreeLocked(unit *payloadUnit) {
	p.failed[unit] = true
	p.dropChildrenLocked(unit)
}

func (p *publisher) dropChildrenLocked(unit *payloadUnit) {
	children := p.queued[unit]
	delete(p.queued, unit)
	for _, rp := range children {
		p.dropSubtreeLocked(rp.unit)
	}
}

// nullify records that the subtree at path became null, discarding queued
// payloads addressed beneath it. In-flight units drop on completion.
func (p *publisher) nullify(path Path) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := path
	if prefix == nil {
		prefix = Path{}
	}
	p.nullified = append(p.nullified, prefix)
	for parent, children := range p.queued {
		kept := children[:0]
		for _, rp := range children {
			if pathHasPrefix(rp.unit.path, prefix) {
				p.dropSubtreeLocked(rp.unit)
				continue
			}
			kept = append(kept, rp)
		}
		if len(kept) == 0 {
			delete(p.queued, parent)
		} else {
			p.queued[parent] = kept
		}
	}
	p.maybeEndLocked()
}

func (p *publisher) hasNullifiedPrefixLocked(path Path) bool {
	for _, prefix := range p.nullified {
		if pathHasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func pathHasPrefix(path, prefix Path) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, elem := range prefix {
		if path[i] != elem {
			return false
		}
	}
	return true
}

func (p *publisher) hasWorkLocked() bool {
	if p.pending > 0 || len(p.iterators) > 0 {
		return true
	}
	return len(p.queued) > 0
}

// maybeEndLocked closes the patch sequence once no work remains. If the last
// emission promised more, a bare hasNext:false patch closes it out.
func (p *publisher) maybeEndLocked() {
	if !p.started || p.ended || p.hasWorkLocked() {
		return
	}
	p.ended = true
	if p.lastHasNext {
		p.lastHasNext = false
		p.stream.push(&Patch{Path: Path{}, HasNext: false})
	}
	p.stream.end()
	p.cancel()
}

// stop aborts delivery: the work context is canceled and every live source
// stream is closed before the call returns.
func (p *publisher) stop() {
	p.cancel()
	p.mu.Lock()
	p.ended = true
	iterators := make([]Stream, 0, len(p.iterators))
	for s := range p.iterators {
		iterators = append(iterators, s)
	}
	p.iterators = map[Stream]struct{}{}
	p.queued = map[*payloadUnit][]*readyPayload{}
	p.mu.Unlock()

	for _, s := range iterators {
		_ = s.Close(context.Background())
	}
}

func (p *publisher) trackIterator(s Stream) {
	p.mu.Lock()
	p.iterators[s] = struct{}{}
	p.mu.Unlock()
}

func (p *publisher) untrackIterator(s Stream) {
	p.mu.Lock()
	delete(p.iterators, s)
	p.mu.Unlock()
}

// startStreamTail begins delivering the remainder of a streamed list, one
// patch per item. The caller has already consumed the initial segment; the
// tail looks one item ahead so the final item's patch reports hasNext
// accurately without an extra empty patch. A source exhausted exactly at the
// initial segment yields one bare hasNext:false patch instead.
func (p *publisher) startStreamTail(parent *payloadUnit, source Stream, itemType *schema.TypeRef, nodes []*language.Field, basePath Path, label string, nextIndex int) {
	p.trackIterator(source)
	go p.runStreamTail(parent, source, itemType, nodes, basePath, label, nextIndex)
}

func (p *publisher) runStreamTail(parent *payloadUnit, source Stream, itemType *schema.TypeRef, nodes []*language.Field, basePath Path, label string, index int) {
	ctx := p.ec.ctx
	prev := parent

	// The tail never races the initial phase: consuming the source before the
	// initial result is sealed could end delivery prematurely.
	select {
	case <-p.startedCh:
	case <-ctx.Done():
	}

	cur, ok, err := source.Next(ctx)
	for {
		p.mu.Lock()
		stopped := p.ended || p.hasNullifiedPrefixLocked(basePath)
		p.mu.Unlock()
		if stopped {
			p.untrackIterator(source)
			_ = source.Close(ctx)
			return
		}

		if err != nil {
			unit := p.registerItem(prev, label, basePath.With(index))
			unit.addError(locatedError(err, nodes, unit.path))
			p.untrackIterator(source)
			_ = source.Close(ctx)
			p.complete(unit, nil, true)
			return
		}
		if !ok {
			p.untrackIterator(source)
			_ = source.Close(ctx)
			p.mu.Lock()
			p.maybeEndLocked()
			p.mu.Unlock()
			return
		}

		unit := p.registerItem(prev, label, basePath.With(index))
		if fut, isFut := cur.(Future); isFut {
			cur, err = fut.Await(ctx)
			if err != nil {
				unit.addError(locatedError(err, nodes, unit.path))
				p.untrackIterator(source)
				_ = source.Close(ctx)
				p.complete(unit, nil, true)
				return
			}
		}

		value, cerr := p.ec.completeValue(unit, itemType, nodes, unit.path, cur)
		terminal := false
		if cerr != nil {
			v, herr := p.ec.handleFieldError(unit, itemType, unit.path, nodes, cerr)
			value = v
			terminal = herr != nil
		}
		if terminal {
			p.untrackIterator(source)
			_ = source.Close(ctx)
			p.complete(unit, nil, true)
			return
		}

		// Lookahead before emitting so exhaustion is visible in hasNext.
		next, nok, nerr := source.Next(ctx)
		if nerr == nil && !nok {
			p.untrackIterator(source)
			_ = source.Close(ctx)
		}
		p.complete(unit, value, false)

		prev = unit
		index++
		cur, ok, err = next, nok, nerr
	}
}
