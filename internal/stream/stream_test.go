package stream

import (
	"context"
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := New[int](4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)
	if n := h.Subscribers(); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}
	h.Publish(7)

	for i, ch := range []<-chan int{a, b} {
		select {
		case v := <-ch:
			if v != 7 {
				t.Fatalf("subscriber %d got %d", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx)
	h.Publish(1)
	h.Publish(2)

	if v := <-ch; v != 1 {
		t.Fatalf("got %d, want 1", v)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestHubUnsubscribeOnCancel(t *testing.T) {
	h := New[string](0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if n := h.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	h.Publish("after")
}

func TestNilHubPublish(t *testing.T) {
	var h *Hub[int]
	h.Publish(1)
}
