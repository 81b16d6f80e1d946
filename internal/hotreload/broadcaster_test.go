package hotreload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestBroadcaster_AddRemoveListener(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	listener := func(ctx context.Context, outcome Outcome) error { return nil }

	if err := b.AddListener("metrics", listener); err != nil {
		t.Fatalf("Failed to add listener: %v", err)
	}
	if !b.HasListener("metrics") || b.ListenerCount() != 1 {
		t.Fatal("Expected listener 'metrics' to be registered")
	}

	if err := b.AddListener("metrics", listener); err == nil {
		t.Fatal("Expected error when adding listener with duplicate name, but got nil")
	}

	b.RemoveListener("metrics")
	if b.HasListener("metrics") || b.ListenerCount() != 0 {
		t.Error("Expected listener 'metrics' to be removed")
	}

	// Removing a missing listener should not panic
	b.RemoveListener("nonexistent")
}

func TestBroadcaster_Broadcast(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var calls atomic.Int32
	var failed atomic.Bool
	count := func(ctx context.Context, outcome Outcome) error {
		calls.Add(1)
		if outcome.Err != nil {
			failed.Store(true)
		}
		return nil
	}
	for _, name := range []string{"one", "two"} {
		if err := b.AddListener(name, count); err != nil {
			t.Fatalf("AddListener failed: %v", err)
		}
	}

	if err := b.Broadcast(context.Background(), Outcome{Err: errors.New("bad config")}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 listener calls, got %d", calls.Load())
	}
	if !failed.Load() {
		t.Error("Expected listeners to see the reload error")
	}
}

func TestBroadcaster_BroadcastCollectsErrors(t *testing.T) {
	b := NewBroadcaster(nil)

	boom := errors.New("boom")
	_ = b.AddListener("ok", func(ctx context.Context, outcome Outcome) error { return nil })
	_ = b.AddListener("bad", func(ctx context.Context, outcome Outcome) error { return boom })

	err := b.Broadcast(context.Background(), Outcome{})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected broadcast error to wrap listener error, got %v", err)
	}

	b.Close()
	if b.ListenerCount() != 0 {
		t.Errorf("Expected Close to remove listeners, got %d", b.ListenerCount())
	}
	if err := b.Broadcast(context.Background(), Outcome{}); err != nil {
		t.Errorf("Broadcast without listeners should succeed, got %v", err)
	}
}
