package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/werdnum/family-assistant-go/internal/confirm"
	"github.com/werdnum/family-assistant-go/internal/worker"
)

func newWorkerTestServer(t *testing.T) (*Server, *http.ServeMux, *worker.Store) {
	t.Helper()
	store, err := worker.NewStore(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := NewServer("", 8080, testLogger())
	s.SetWorkerOrchestrator(nil, store)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/{conversation_id}/workers", s.handleConversationWorkers)
	return s, mux, store
}

func TestHandleConversationWorkersListsTasks(t *testing.T) {
	_, mux, store := newWorkerTestServer(t)

	task := &worker.Task{
		ConversationID:  "conv1",
		InterfaceType:   "chat",
		Model:           "default",
		TaskDescription: "summarize inbox",
		CallbackToken:   "tok",
	}
	if err := store.CreateTaskIfUnderLimit(task, 0); err != nil {
		t.Fatalf("CreateTaskIfUnderLimit: %v", err)
	}

	req := httptest.NewRequest("GET", "/conversations/conv1/workers", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Tasks []worker.Task `json:"tasks"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Count != 1 || len(resp.Tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", resp.Count)
	}
}

func TestHandleConversationWorkersUnconfiguredIsUnavailable(t *testing.T) {
	s := NewServer("", 8080, testLogger())
	req := httptest.NewRequest("GET", "/conversations/conv1/workers", nil)
	rec := httptest.NewRecorder()
	s.handleConversationWorkers(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func newConfirmTestServer(t *testing.T, prompt confirm.Prompter) (*Server, *http.ServeMux) {
	t.Helper()
	m := confirm.New(prompt, confirm.Config{Timeout: time.Second}, nil)
	s := NewServer("", 8080, testLogger())
	s.SetConfirmMediator(m)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /confirmations/{conversation_id}/{turn_id}/{tool_name}", s.handleConfirmationReply)
	return s, mux
}

func TestHandleConfirmationReplyResolvesOutstandingRequest(t *testing.T) {
	s, mux := newConfirmTestServer(t, func(ctx context.Context, key confirm.Key, description string) error {
		return nil
	})

	key := confirm.Key{ConversationID: "conv1", TurnID: "turn1", ToolName: "send_email"}
	resultCh := make(chan bool, 1)
	go func() {
		approved, err := s.confirmMediator.RequestConfirmation(context.Background(), key, "send the email?")
		if err != nil {
			t.Errorf("RequestConfirmation: %v", err)
		}
		resultCh <- approved
	}()

	// Give RequestConfirmation a moment to register the pending request
	// before the reply arrives.
	time.Sleep(20 * time.Millisecond)

	body, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest("POST", "/confirmations/conv1/turn1/send_email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	select {
	case approved := <-resultCh:
		if !approved {
			t.Fatal("expected approved=true to propagate to the waiting requester")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RequestConfirmation to resolve")
	}
}

func TestHandleConfirmationReplyUnknownRequestIsNotFound(t *testing.T) {
	_, mux := newConfirmTestServer(t, func(ctx context.Context, key confirm.Key, description string) error {
		return nil
	})

	body, _ := json.Marshal(map[string]any{"approved": false})
	req := httptest.NewRequest("POST", "/confirmations/conv1/turn1/send_email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleConfirmationReplyInvalidBody(t *testing.T) {
	_, mux := newConfirmTestServer(t, func(ctx context.Context, key confirm.Key, description string) error {
		return nil
	})

	req := httptest.NewRequest("POST", "/confirmations/conv1/turn1/send_email", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleConfirmationReplyUnconfiguredIsUnavailable(t *testing.T) {
	s := NewServer("", 8080, testLogger())
	body, _ := json.Marshal(map[string]any{"approved": true})
	req := httptest.NewRequest("POST", "/confirmations/conv1/turn1/send_email", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleConfirmationReply(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
