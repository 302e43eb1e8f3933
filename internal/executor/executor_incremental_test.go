package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestIncremental_DeferBasic(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { user: User }
	type User { id: ID bio: String }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.user": NewMockValueResolver(map[string]any{"id": "1"}),
		"User.bio":   NewMockValueResolver("hello"),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ user { id ... @defer(label: "bio") { bio } } }`,
	})

	if got := mustJSON(t, rr.Result.Data); got != `{"user":{"id":"1"}}` {
		t.Fatalf("initial data mismatch: got %s", got)
	}
	if rr.Result.HasNext == nil || !*rr.Result.HasNext {
		t.Fatal("initial result must report hasNext true")
	}

	patches := rr.Patches.Drain(context.Background())
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	p := patches[0]
	if p.Label != "bio" || p.HasNext {
		t.Fatalf("patch header mismatch: %+v", p)
	}
	if diff := cmp.Diff(Path{"user"}, p.Path); diff != "" {
		t.Fatalf("patch path mismatch (-want +got):\n%s", diff)
	}
	if got := mustJSON(t, p.Data); got != `{"bio":"hello"}` {
		t.Fatalf("patch data mismatch: got %s", got)
	}
}

func TestIncremental_NestedDeferParentBeforeChild(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { user: User }
	type User { id: ID profile: Profile }
	type Profile { bio: String avatar: String }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.user":     NewMockValueResolver(map[string]any{"id": "1"}),
		"User.profile":   NewMockValueResolver(map[string]any{"bio": "hi", "avatar": "a.png"}),
		"Profile.avatar": NewMockValueResolver("a.png"),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{
		  user {
		    id
		    ... @defer(label: "outer") {
		      profile {
		        bio
		        ... @defer(label: "inner") { avatar }
		      }
		    }
		  }
		}`,
	})

	patches := rr.Patches.Drain(context.Background())
	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d: %s", len(patches), mustJSON(t, patches))
	}
	if patches[0].Label != "outer" || patches[1].Label != "inner" {
		t.Fatalf("parent must flush before child: %s then %s", patches[0].Label, patches[1].Label)
	}
	if !patches[0].HasNext {
		t.Fatal("non-final patch must report hasNext true")
	}
	if patches[1].HasNext {
		t.Fatal("final patch must report hasNext false")
	}
	if diff := cmp.Diff(Path{"user", "profile"}, patches[1].Path); diff != "" {
		t.Fatalf("inner patch path mismatch (-want +got):\n%s", diff)
	}
}

func TestIncremental_StreamInitialCount(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { items: [String] }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver(SliceStream("a", "b", "c")),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ items @stream(initialCount: 1) }`,
	})

	if got := mustJSON(t, rr.Result.Data); got != `{"items":["a"]}` {
		t.Fatalf("initial data mismatch: got %s", got)
	}
	patches := rr.Patches.Drain(context.Background())
	if len(patches) != 2 {
		t.Fatalf("expected 2 item patches, got %d: %s", len(patches), mustJSON(t, patches))
	}

	if diff := cmp.Diff(Path{"items", 1}, patches[0].Path); diff != "" {
		t.Fatalf("first patch path mismatch (-want +got):\n%s", diff)
	}
	if patches[0].Data != "b" || !patches[0].HasNext {
		t.Fatalf("first item patch mismatch: %+v", patches[0])
	}
	if diff := cmp.Diff(Path{"items", 2}, patches[1].Path); diff != "" {
		t.Fatalf("second patch path mismatch (-want +got):\n%s", diff)
	}
	if patches[1].Data != "c" || patches[1].HasNext {
		t.Fatalf("last item patch must carry hasNext false: %+v", patches[1])
	}
}

func TestIncremental_StreamExhaustedByInitialSegment(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { items: [String] }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver(SliceStream("a", "b")),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ items @stream(initialCount: 2) }`,
	})

	if got := mustJSON(t, rr.Result.Data); got != `{"items":["a","b"]}` {
		t.Fatalf("data mismatch: got %s", got)
	}
	if rr.Patches == nil {
		t.Fatal("exhaustion is discovered after the initial result, so a patch phase exists")
	}

	// The source ends exactly at initialCount: one bare terminal patch closes
	// the sequence.
	patches := rr.Patches.Drain(context.Background())
	if len(patches) != 1 {
		t.Fatalf("expected 1 terminal patch, got %s", mustJSON(t, patches))
	}
	if patches[0].Data != nil || patches[0].HasNext || len(patches[0].Errors) != 0 {
		t.Fatalf("terminal patch mismatch: %+v", patches[0])
	}
}

func TestIncremental_StreamDisabledDeliversFullList(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { items: [String] }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver(SliceStream("a", "b", "c")),
	})
	exec := New(sch, rt, WithoutIncremental())

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ items @stream(initialCount: 1) }`,
	})
	if rr.Patches != nil {
		t.Fatal("incremental delivery must be disabled")
	}
	if got := mustJSON(t, rr.Result.Data); got != `{"items":["a","b","c"]}` {
		t.Fatalf("data mismatch: got %s", got)
	}
}

func TestIncremental_DeferErrorDeliversNullPayload(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { user: User }
	type User { id: ID secret: String! }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.user":  NewMockValueResolver(map[string]any{"id": "1"}),
		"User.secret": NewMockErrorResolver(errors.New("denied")),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ user { id ... @defer { secret } } }`,
	})

	// The initial result is untouched by the deferred failure.
	if got := mustJSON(t, rr.Result.Data); got != `{"user":{"id":"1"}}` {
		t.Fatalf("initial data mismatch: got %s", got)
	}

	patches := rr.Patches.Drain(context.Background())
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	p := patches[0]
	if p.Data != nil {
		t.Fatalf("errored payload must carry data null, got %s", mustJSON(t, p.Data))
	}
	if len(p.Errors) != 1 || p.Errors[0].Message != "denied" {
		t.Fatalf("payload errors mismatch: %v", p.Errors)
	}
	if diff := cmp.Diff(Path{"user", "secret"}, p.Errors[0].Path); diff != "" {
		t.Fatalf("error path mismatch (-want +got):\n%s", diff)
	}
	if p.HasNext {
		t.Fatal("final patch must report hasNext false")
	}
}

func TestIncremental_HasNextRoundTrip(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { a: A items: [Int] }
	type A { x: Int y: Int }
	`)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a":     NewMockValueResolver(map[string]any{"x": 1, "y": 2}),
		"Query.items": NewMockValueResolver(SliceStream(10, 20, 30)),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{
		  a { x ... @defer { y } }
		  items @stream(initialCount: 0)
		}`,
	})

	patches := rr.Patches.Drain(context.Background())
	if len(patches) == 0 {
		t.Fatal("expected patches")
	}
	for i, p := range patches {
		last := i == len(patches)-1
		if p.HasNext == last {
			t.Fatalf("patch %d hasNext=%v violates ordering: %s", i, p.HasNext, mustJSON(t, patches))
		}
	}
}

// recordingStream wraps a Stream and records Close calls.
type recordingStream struct {
	inner  Stream
	closed chan struct{}
}

func newRecordingStream(inner Stream) *recordingStream {
	return &recordingStream{inner: inner, closed: make(chan struct{})}
}

func (r *recordingStream) Next(ctx context.Context) (any, bool, error) {
	return r.inner.Next(ctx)
}

func (r *recordingStream) Close(ctx context.Context) error {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
	return r.inner.Close(ctx)
}

func TestIncremental_StopClosesSourceStreams(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { items: [Int] }
	`)

	// An unbounded source: without Stop the tail would never finish.
	ch := make(chan int)
	source := newRecordingStream(ChanStream(ch))
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver(source),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ items @stream(initialCount: 0) }`,
	})
	if rr.Patches == nil {
		t.Fatal("expected a patch phase")
	}

	rr.Patches.Stop()

	select {
	case <-source.closed:
	case <-time.After(time.Second):
		t.Fatal("Stop did not close the source stream")
	}
	if p, ok := rr.Patches.Next(context.Background()); ok {
		t.Fatalf("patches after Stop: %+v", p)
	}
}

func TestIncremental_StreamItemErrorNullableContinues(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { items: [Int] }
	`)
	boom := errors.New("bad item")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver(SliceStream(
			1,
			FutureFunc(func(ctx context.Context) (any, error) { return nil, boom }),
			3,
		)),
	})
	exec := New(sch, rt)

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `{ items @stream(initialCount: 1) }`,
	})
	patches := rr.Patches.Drain(context.Background())

	// The errored item terminates the stream with a null payload.
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %s", mustJSON(t, patches))
	}
	if patches[0].Data != nil || len(patches[0].Errors) != 1 {
		t.Fatalf("errored item patch mismatch: %+v", patches[0])
	}
	if diff := cmp.Diff(Path{"items", 1}, patches[0].Path); diff != "" {
		t.Fatalf("patch path mismatch (-want +got):\n%s", diff)
	}
}
