package executor

import (
	"context"
	"testing"
	"time"
)

func TestPatchStreamPushBlocksWhenFull(t *testing.T) {
	s := newPatchStream(nil)
	s.release()
	for i := 0; i < patchBufferSize; i++ {
		s.push(&Patch{HasNext: true})
	}

	pushed := make(chan struct{})
	go func() {
		s.push(&Patch{HasNext: true})
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push must block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	if _, ok := s.Next(context.Background()); !ok {
		t.Fatal("expected a buffered patch")
	}
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push must resume after the consumer drains")
	}
}

func TestPatchStreamStopReleasesBlockedPush(t *testing.T) {
	s := newPatchStream(nil)
	s.release()
	for i := 0; i < patchBufferSize; i++ {
		s.push(&Patch{HasNext: true})
	}

	pushed := make(chan struct{})
	go func() {
		s.push(&Patch{HasNext: true})
		close(pushed)
	}()

	s.Stop()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Stop must release a blocked push")
	}
	if _, ok := s.Next(context.Background()); ok {
		t.Fatal("stopped stream must not yield patches")
	}
}

// Patches produced while the initial result is still being assembled enqueue
// without a bound: no consumer exists yet, and blocking there would stall the
// call that hands the stream out.
func TestPatchStreamUnboundedBeforeRelease(t *testing.T) {
	s := newPatchStream(nil)
	for i := 0; i < patchBufferSize*3; i++ {
		s.push(&Patch{HasNext: true})
	}
	s.release()
	s.end()

	n := len(s.Drain(context.Background()))
	if n != patchBufferSize*3 {
		t.Fatalf("expected %d buffered patches, got %d", patchBufferSize*3, n)
	}
}
