package pipeline

import (
	"testing"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

func TestIndexingSourceEmitProducesEvent(t *testing.T) {
	src := NewIndexingSource()
	src.Emit("doc-1", "recipes", 7)

	ev := <-src.Events()
	if ev.Source != automation.SourceIndex {
		t.Fatalf("Source = %q, want %q", ev.Source, automation.SourceIndex)
	}
	if ev.EntityKey != "doc-1" {
		t.Fatalf("EntityKey = %q, want %q", ev.EntityKey, "doc-1")
	}
	if ev.Data["chunks_written"] != 7 {
		t.Fatalf("chunks_written = %v, want 7", ev.Data["chunks_written"])
	}
}

func TestIndexingSourceDropsWhenQueueFull(t *testing.T) {
	src := NewIndexingSource()
	for i := 0; i < 64; i++ {
		src.Emit("doc", "cat", i)
	}
	// Queue capacity is 64; the 65th Emit must not block.
	src.Emit("overflow", "cat", 0)

	if len(src.out) != 64 {
		t.Fatalf("queue length = %d, want 64 (overflow should be dropped)", len(src.out))
	}
}

func TestIndexingSourceStartStopAreNoOps(t *testing.T) {
	src := NewIndexingSource()
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := <-src.Events(); ok {
		t.Fatal("expected channel to be closed after Stop")
	}
}
