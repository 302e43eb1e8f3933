package executor

import (
	"context"
	"time"
)

// newBundledStream coalesces consecutive stream-item patches into chunked
// patches carrying atIndex. A chunk flushes when it reaches maxChunkSize
// items, when maxInterval elapses after its first item, or when a patch
// arrives that cannot extend it. Non-item patches pass through unchanged.
func newBundledStream(in *PatchStream, cfg *bundleConfig) *PatchStream {
	out := newPatchStream(in.Stop)
	out.release()

	feed := make(chan *Patch)
	go func() {
		defer close(feed)
		for {
			p, ok := in.Next(context.Background())
			if !ok {
				return
			}
			feed <- p
		}
	}()

	go func() {
		var chunk []*Patch
		timer := time.NewTimer(cfg.maxInterval)
		if !timer.Stop() {
			<-timer.C
		}
		timerArmed := false

		stopTimer := func() {
			if timerArmed && !timer.Stop() {
				<-timer.C
			}
			timerArmed = false
		}
		flush := func() {
			stopTimer()
			if len(chunk) == 0 {
				return
			}
			out.push(coalesce(chunk))
			chunk = nil
		}

		for {
			select {
			case p, ok := <-feed:
				if !ok {
					flush()
					out.end()
					return
				}
				if !chainableItem(p) {
					flush()
					out.push(p)
					continue
				}
				if len(chunk) > 0 && !extends(chunk[len(chunk)-1], p) {
					flush()
				}
				chunk = append(chunk, p)
				if len(chunk) == 1 {
					timer.Reset(cfg.maxInterval)
					timerArmed = true
				}
				if len(chunk) >= cfg.maxChunkSize || !p.HasNext {
					flush()
				}
			case <-timer.C:
				timerArmed = false
				flush()
			}
		}
	}()

	return out
}

// chainableItem reports whether a patch is a single stream item eligible for
// chunking. A defer patch addressed at a list item also ends in an index, but
// an AtIndex chunk promises full consecutive items, so only patches tagged as
// stream items qualify.
func chainableItem(p *Patch) bool {
	return p.streamItem && p.AtIndex == nil
}

// extends reports whether b continues the chunk ended by a: same list, the
// next consecutive index, the same label, and the same kind (data or error).
func extends(a, b *Patch) bool {
	ai, _ := a.Path[len(a.Path)-1].(int)
	bi, _ := b.Path[len(b.Path)-1].(int)
	if bi != ai+1 || a.Label != b.Label {
		return false
	}
	if (len(a.Errors) > 0) != (len(b.Errors) > 0) {
		return false
	}
	return pathHasPrefix(a.Path[:len(a.Path)-1], b.Path[:len(b.Path)-1]) &&
		len(a.Path) == len(b.Path)
}

// coalesce merges a chunk of consecutive item patches into one patch whose
// Data is the slice of item values starting at AtIndex. A single-item chunk
// passes through unchanged.
func coalesce(chunk []*Patch) *Patch {
	if len(chunk) == 1 {
		return chunk[0]
	}
	first := chunk[0]
	last := chunk[len(chunk)-1]
	start, _ := first.Path[len(first.Path)-1].(int)

	data := make([]any, len(chunk))
	var errs []GraphQLError
	for i, p := range chunk {
		data[i] = p.Data
		errs = append(errs, p.Errors...)
	}
	at := start
	return &Patch{
		Data:    data,
		Path:    first.Path[:len(first.Path)-1],
		Label:   first.Label,
		HasNext: last.HasNext,
		Errors:  errs,
		AtIndex: &at,
	}
}
