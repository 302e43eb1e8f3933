package executor

import (
	"context"
	"sync"
)

// patchBufferSize bounds the number of undelivered patches. Producers block
// on push once the buffer is full, pausing stream tails until the consumer
// drains.
const patchBufferSize = 16

// PatchStream is the ordered sequence of patches following an initial result.
// The buffer is bounded once the stream is released to a consumer; the
// consumer pulls with Next and may abandon the request with Stop at any point.
type PatchStream struct {
	mu       sync.Mutex
	buf      []*Patch
	notify   chan struct{}
	space    chan struct{}
	done     chan struct{}
	released bool
	ended    bool
	stopped  bool
	onStop   func()
}

func newPatchStream(onStop func()) *PatchStream {
	return &PatchStream{
		notify: make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

// release turns the buffer bound on. Patches pushed while the initial result
// is still being assembled precede any consumer, so they enqueue freely;
// blocking there would stall the call that is about to hand the stream out.
func (s *PatchStream) release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

// push appends a patch, blocking while the buffer is full until the consumer
// drains or the stream terminates. No-op after end or Stop.
func (s *PatchStream) push(p *Patch) {
	for {
		s.mu.Lock()
		if s.ended || s.stopped {
			s.mu.Unlock()
			return
		}
		if !s.released || len(s.buf) < patchBufferSize {
			s.buf = append(s.buf, p)
			s.mu.Unlock()
			s.wake()
			return
		}
		s.mu.Unlock()
		select {
		case <-s.space:
		case <-s.done:
		}
	}
}

// end marks the sequence complete; buffered patches remain readable.
func (s *PatchStream) end() {
	s.mu.Lock()
	if !s.ended && !s.stopped {
		s.ended = true
		close(s.done)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *PatchStream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next patch, blocking until one is available, the sequence
// ends, or ctx is done. ok is false when no more patches will arrive.
func (s *PatchStream) Next(ctx context.Context) (*Patch, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			p := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			select {
			case s.space <- struct{}{}:
			default:
			}
			return p, true
		}
		done := s.ended || s.stopped
		s.mu.Unlock()
		if done {
			return nil, false
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Stop abandons the request: outstanding execution is canceled and every live
// source stream is closed before Stop returns. Buffered patches are dropped
// and blocked pushers are released.
func (s *PatchStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !s.ended {
		close(s.done)
	}
	s.stopped = true
	s.buf = nil
	onStop := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
	s.wake()
}

// Drain collects every remaining patch. Intended for tests and synchronous
// transports.
func (s *PatchStream) Drain(ctx context.Context) []*Patch {
	var patches []*Patch
	for {
		p, ok := s.Next(ctx)
		if !ok {
			return patches
		}
		patches = append(patches, p)
	}
}
