package pipeline

import (
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

// IndexingSource has no independent lifecycle: indexing events
// originate synchronously from a caller (the document ingest endpoint,
// or any other in-process indexer) invoking Emit, not from a polled or
// pushed external feed. Start/Stop are no-ops so it still satisfies
// Source and can be registered alongside the other sources.
type IndexingSource struct {
	out chan Event
}

// NewIndexingSource constructs a source with a bounded event queue.
func NewIndexingSource() *IndexingSource {
	return &IndexingSource{out: make(chan Event, 64)}
}

func (s *IndexingSource) Start() error { return nil }
func (s *IndexingSource) Stop() error  { close(s.out); return nil }
func (s *IndexingSource) Events() <-chan Event {
	return s.out
}

// Emit carries {document_id, category, chunks_written} for a single
// ingested document.
func (s *IndexingSource) Emit(documentID, category string, chunksWritten int) {
	ev := Event{
		Source:    automation.SourceIndex,
		EventType: "document_ingested",
		EntityKey: documentID,
		Data: map[string]any{
			"document_id":    documentID,
			"category":       category,
			"chunks_written": chunksWritten,
		},
		OccurredAt: time.Now(),
	}
	select {
	case s.out <- ev:
	default:
	}
}
