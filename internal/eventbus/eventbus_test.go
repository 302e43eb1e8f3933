package eventbus

import (
	"context"
	"testing"
)

type testEvent struct {
	n int
}

type otherEvent struct{}

func TestPublishReachesSubscribers(t *testing.T) {
	Use(New())
	defer Use(nil)

	var got []int
	unsub := Subscribe(func(ctx context.Context, e testEvent) {
		got = append(got, e.n)
	})
	Subscribe(func(ctx context.Context, e otherEvent) {
		t.Error("handler for another event type must not fire")
	})

	Publish(context.Background(), testEvent{n: 1})
	Publish(context.Background(), testEvent{n: 2})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v", got)
	}

	unsub()
	Publish(context.Background(), testEvent{n: 3})
	if len(got) != 2 {
		t.Fatalf("handler fired after unsubscribe: %v", got)
	}
}

func TestUnsubscribeRemovesOnlyItself(t *testing.T) {
	Use(New())
	defer Use(nil)

	var a, b int
	unsubA := Subscribe(func(ctx context.Context, e testEvent) { a++ })
	Subscribe(func(ctx context.Context, e testEvent) { b++ })

	unsubA()
	unsubA() // idempotent
	Publish(context.Background(), testEvent{})
	if a != 0 || b != 1 {
		t.Fatalf("a=%d b=%d", a, b)
	}
}

func TestNilBusIsSilent(t *testing.T) {
	Use(nil)
	unsub := Subscribe(func(ctx context.Context, e testEvent) {
		t.Error("no bus, no delivery")
	})
	Publish(context.Background(), testEvent{})
	unsub()
}
