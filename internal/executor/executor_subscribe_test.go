package executor

import (
	"context"
	"testing"
)

const subscribeSDL = `
type Query { ok: Boolean }
type Subscription { messageAdded(room: String!): Message }
type Message { body: String from: String }
`

func TestSubscribe_DeliversOneResultPerEvent(t *testing.T) {
	sch := mustBuildSchema(t, subscribeSDL)

	ch := make(chan map[string]any, 2)
	rt := NewMockRuntime(map[string]MockResolver{
		"Subscription.messageAdded": func(ctx context.Context, source any, args map[string]any) (any, error) {
			if args["room"] != "general" {
				t.Errorf("args not forwarded: %v", args)
			}
			return ChanStream(ch), nil
		},
	})
	exec := New(sch, rt)

	sub, err := exec.Subscribe(context.Background(), Request{
		Query: `subscription { messageAdded(room: "general") { body from } }`,
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	defer sub.Close(context.Background())

	ch <- map[string]any{"body": "hi", "from": "ada"}
	ch <- map[string]any{"body": "yo", "from": "bob"}
	close(ch)

	first, ok := sub.Next(context.Background())
	if !ok {
		t.Fatal("expected first event")
	}
	if got := mustJSON(t, first.Result.Data); got != `{"messageAdded":{"body":"hi","from":"ada"}}` {
		t.Fatalf("first event mismatch: got %s", got)
	}

	second, ok := sub.Next(context.Background())
	if !ok {
		t.Fatal("expected second event")
	}
	if got := mustJSON(t, second.Result.Data); got != `{"messageAdded":{"body":"yo","from":"bob"}}` {
		t.Fatalf("second event mismatch: got %s", got)
	}

	if _, ok := sub.Next(context.Background()); ok {
		t.Fatal("expected exhaustion after source close")
	}
	if sub.Err() != nil {
		t.Fatalf("unexpected source error: %v", sub.Err())
	}
}

func TestSubscribe_EventErrorsStayPerEvent(t *testing.T) {
	sch := mustBuildSchema(t, subscribeSDL)

	ch := make(chan map[string]any, 2)
	rt := NewMockRuntime(map[string]MockResolver{
		"Subscription.messageAdded": func(ctx context.Context, source any, args map[string]any) (any, error) {
			return ChanStream(ch), nil
		},
		"Message.body": func(ctx context.Context, source any, args map[string]any) (any, error) {
			event := source.(map[string]any)
			if event["body"] == nil {
				return nil, context.DeadlineExceeded
			}
			return event["body"], nil
		},
	})
	exec := New(sch, rt)

	sub, err := exec.Subscribe(context.Background(), Request{
		Query: `subscription { messageAdded(room: "x") { body } }`,
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	defer sub.Close(context.Background())

	ch <- map[string]any{"body": nil}
	ch <- map[string]any{"body": "fine"}
	close(ch)

	bad, ok := sub.Next(context.Background())
	if !ok || len(bad.Result.Errors) != 1 {
		t.Fatalf("expected an errored event result, got %+v", bad)
	}
	good, ok := sub.Next(context.Background())
	if !ok || len(good.Result.Errors) != 0 {
		t.Fatalf("expected a clean event result, got %+v", good)
	}
}

func TestCreateSourceEventStream(t *testing.T) {
	sch := mustBuildSchema(t, subscribeSDL)

	t.Run("returns the resolved stream", func(t *testing.T) {
		source := SliceStream("e1", "e2")
		rt := NewMockRuntime(map[string]MockResolver{
			"Subscription.messageAdded": NewMockValueResolver(source),
		})
		exec := New(sch, rt)

		got, err := exec.CreateSourceEventStream(context.Background(), Request{
			Query: `subscription { messageAdded(room: "x") { body } }`,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != source {
			t.Fatal("expected the resolver's stream")
		}
	})

	t.Run("rejects non-stream root values", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Subscription.messageAdded": NewMockValueResolver("not a stream"),
		})
		exec := New(sch, rt)

		if _, err := exec.CreateSourceEventStream(context.Background(), Request{
			Query: `subscription { messageAdded(room: "x") { body } }`,
		}); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("rejects non-subscription operations", func(t *testing.T) {
		exec := New(sch, NewMockRuntime(nil))
		if _, err := exec.CreateSourceEventStream(context.Background(), Request{
			Query: `{ ok }`,
		}); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestExecuteRequest_RejectsSubscriptionsByDefault(t *testing.T) {
	sch := mustBuildSchema(t, subscribeSDL)
	exec := New(sch, NewMockRuntime(nil))

	rr := exec.ExecuteRequest(context.Background(), Request{
		Query: `subscription { messageAdded(room: "x") { body } }`,
	})
	if len(rr.Result.Errors) == 0 {
		t.Fatal("expected a request error")
	}
}
