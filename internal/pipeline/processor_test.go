package pipeline

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
	"github.com/werdnum/family-assistant-go/internal/sandbox"
)

// fakeSource is a Source whose Events channel the test feeds directly.
type fakeSource struct {
	ch      chan Event
	stopped atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan Event, 8)}
}

func (f *fakeSource) Start() error { return nil }
func (f *fakeSource) Stop() error {
	f.stopped.Store(true)
	return nil
}
func (f *fakeSource) Events() <-chan Event { return f.ch }

func newTestRegistry(t *testing.T) (*automation.Registry, *automation.Store) {
	t.Helper()
	store, err := automation.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reg, err := automation.NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, store
}

func TestProcessorDispatchesOnMatch(t *testing.T) {
	reg, store := newTestRegistry(t)
	_, err := reg.CreateEvent(automation.CreateEventParams{
		Name: "kitchen_light", ConversationID: "conv1", Enabled: true,
		ActionType: automation.ActionWakeAgent, SourceID: automation.SourceHome,
		MatchConditions: map[string]any{"entity_id": "light.kitchen"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	var woken atomic.Int32
	wake := func(ctx context.Context, conversationID string, trigger map[string]any) (string, error) {
		woken.Add(1)
		return "turn-1", nil
	}
	dispatcher := NewActionDispatcher(wake, sandbox.New(), nil)
	proc := NewProcessor(reg, store, sandbox.New(), dispatcher, Config{WorkerCount: 2, SampleWindow: time.Minute}, nil)

	src := newFakeSource()
	proc.AddSource(src)

	ctx, cancel := context.WithCancel(context.Background())
	go proc.Run(ctx)
	// Run starts sources and workers; give the worker pool a moment to
	// come up before pushing an event through the fake source's channel.
	time.Sleep(10 * time.Millisecond)

	src.ch <- Event{
		Source:     automation.SourceHome,
		EventType:  "state_changed",
		EntityKey:  "light.kitchen",
		Data:       map[string]any{"entity_id": "light.kitchen"},
		OccurredAt: time.Now(),
	}

	deadline := time.After(2 * time.Second)
	for woken.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for automation to dispatch")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
}

func TestProcessorSkipsDisabledAutomations(t *testing.T) {
	reg, store := newTestRegistry(t)
	a, err := reg.CreateEvent(automation.CreateEventParams{
		Name: "disabled_rule", ConversationID: "conv1", Enabled: true,
		ActionType: automation.ActionWakeAgent, SourceID: automation.SourceWebhook,
		MatchConditions: map[string]any{"source": "cam1"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := reg.SetEnabled(automation.KindEvent, a.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	var woken atomic.Int32
	wake := func(ctx context.Context, conversationID string, trigger map[string]any) (string, error) {
		woken.Add(1)
		return "turn-1", nil
	}
	dispatcher := NewActionDispatcher(wake, sandbox.New(), nil)
	proc := NewProcessor(reg, store, sandbox.New(), dispatcher, Config{WorkerCount: 1, SampleWindow: time.Minute}, nil)
	src := newFakeSource()
	proc.AddSource(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proc.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	src.ch <- Event{
		Source:     automation.SourceWebhook,
		EventType:  "motion",
		EntityKey:  "cam1",
		Data:       map[string]any{"source": "cam1"},
		OccurredAt: time.Now(),
	}
	time.Sleep(50 * time.Millisecond)

	if woken.Load() != 0 {
		t.Fatal("expected disabled automation not to dispatch")
	}
}
