package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatchMergesResultsInOrder(t *testing.T) {
	m := NewManager()
	m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) {
		return map[string]any{"a": 1, "b": 1}, nil
	})
	m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) {
		return nil, nil
	})
	m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) {
		return map[string]any{"b": 2}, nil
	})

	got, err := m.Dispatch(context.Background(), Event{Name: "e"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("unexpected merge result: %#v", got)
	}
}

func TestDispatchWithoutListeners(t *testing.T) {
	got, err := NewManager().Dispatch(context.Background(), Event{Name: "none"})
	if err != nil || got != nil {
		t.Fatalf("expected nil result, got %#v, %v", got, err)
	}

	var m *Manager
	if got, err := m.Dispatch(context.Background(), Event{Name: "none"}); err != nil || got != nil {
		t.Fatalf("nil manager should dispatch nothing, got %#v, %v", got, err)
	}
}

func TestOffRemovesListener(t *testing.T) {
	m := NewManager()
	calls := 0
	off := m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) {
		calls++
		return nil, nil
	})
	keep := m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) {
		return nil, nil
	})
	defer keep()

	off()
	if m.Count("e") != 1 {
		t.Fatalf("expected 1 listener, got %d", m.Count("e"))
	}
	if _, err := m.Dispatch(context.Background(), Event{Name: "e"}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("removed listener was called %d times", calls)
	}
}

func TestDispatchStopsOnError(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) { return nil, boom })
	m.On("e", func(ctx context.Context, ev Event) (map[string]any, error) {
		t.Fatal("second listener must not run")
		return nil, nil
	})

	if _, err := m.Dispatch(context.Background(), Event{Name: "e"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}
