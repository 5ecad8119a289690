package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/werdnum/family-assistant-go/internal/pipeline"
)

func TestHandleDocumentIngestEmitsEvent(t *testing.T) {
	src := pipeline.NewIndexingSource()
	s := NewServer("", 8080, testLogger())
	s.SetIndexingSource(src)

	body, _ := json.Marshal(map[string]any{
		"document_id":    "doc1",
		"category":       "notes",
		"chunks_written": 3,
	})
	req := httptest.NewRequest("POST", "/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleDocumentIngest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	select {
	case ev := <-src.Events():
		if ev.EntityKey != "doc1" && ev.Data["document_id"] != "doc1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected an event to be emitted")
	}
}

func TestHandleDocumentIngestRequiresDocumentID(t *testing.T) {
	src := pipeline.NewIndexingSource()
	s := NewServer("", 8080, testLogger())
	s.SetIndexingSource(src)

	body, _ := json.Marshal(map[string]any{"category": "notes"})
	req := httptest.NewRequest("POST", "/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleDocumentIngest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDocumentIngestUnconfiguredIsUnavailable(t *testing.T) {
	s := NewServer("", 8080, testLogger())
	req := httptest.NewRequest("POST", "/ingest", bytes.NewReader([]byte(`{"document_id":"doc1"}`)))
	rec := httptest.NewRecorder()
	s.handleDocumentIngest(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDocumentIngestInvalidBody(t *testing.T) {
	src := pipeline.NewIndexingSource()
	s := NewServer("", 8080, testLogger())
	s.SetIndexingSource(src)

	req := httptest.NewRequest("POST", "/ingest", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.handleDocumentIngest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
