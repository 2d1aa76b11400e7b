package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisHub(t *testing.T) *RedisHub {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisHub(client)
}

func TestRedisHubPublishSubscribe(t *testing.T) {
	hub := newTestRedisHub(t)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "run-r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	sent := New("run-r1", TypeAwaitingInput, map[string]any{"field": "recipient"})
	if err := hub.Publish(ctx, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != sent.ID || got.RunID != "run-r1" || got.Type != TypeAwaitingInput {
			t.Fatalf("unexpected event %+v", got)
		}
		payload, ok := got.Payload.(map[string]any)
		if !ok || payload["field"] != "recipient" {
			t.Fatalf("unexpected payload %#v", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisHubChannelIsolation(t *testing.T) {
	hub := newTestRedisHub(t)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "run-a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := hub.Publish(ctx, New("run-b", TypeRunCompleted, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected no cross-run delivery, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisHubCancelClosesStream(t *testing.T) {
	hub := newTestRedisHub(t)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "run-c")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestRedisHubUninitialized(t *testing.T) {
	var hub *RedisHub
	if err := hub.Publish(context.Background(), New("r", TypeToolCalled, nil)); err == nil {
		t.Fatal("expected error from nil hub")
	}
	if _, _, err := hub.Subscribe(context.Background(), "r"); err == nil {
		t.Fatal("expected error from nil hub")
	}
}
