package confirm

import (
	"context"
	"testing"
	"time"
)

func TestRequestConfirmationApproved(t *testing.T) {
	m := New(func(ctx context.Context, key Key, description string) error { return nil }, Config{Timeout: time.Second}, nil)
	key := Key{ConversationID: "c1", TurnID: "t1", ToolName: "delete_event"}

	go func() {
		time.Sleep(10 * time.Millisecond)
		if err := m.Reply(key, true); err != nil {
			t.Errorf("Reply: %v", err)
		}
	}()

	approved, err := m.RequestConfirmation(context.Background(), key, "delete the event")
	if err != nil {
		t.Fatalf("RequestConfirmation: %v", err)
	}
	if !approved {
		t.Fatal("expected approval")
	}
}

func TestRequestConfirmationTimeoutDenies(t *testing.T) {
	m := New(func(ctx context.Context, key Key, description string) error { return nil }, Config{Timeout: 50 * time.Millisecond}, nil)
	key := Key{ConversationID: "c1", TurnID: "t1", ToolName: "delete_event"}

	approved, err := m.RequestConfirmation(context.Background(), key, "delete the event")
	if err != nil {
		t.Fatalf("RequestConfirmation: %v", err)
	}
	if approved {
		t.Fatal("expected timeout to deny")
	}
}

func TestReplyAfterTimeoutDiscarded(t *testing.T) {
	m := New(func(ctx context.Context, key Key, description string) error { return nil }, Config{Timeout: 20 * time.Millisecond}, nil)
	key := Key{ConversationID: "c1", TurnID: "t1", ToolName: "delete_event"}

	approved, err := m.RequestConfirmation(context.Background(), key, "delete the event")
	if err != nil {
		t.Fatalf("RequestConfirmation: %v", err)
	}
	if approved {
		t.Fatal("expected timeout denial")
	}

	if err := m.Reply(key, true); err != ErrUnknownRequest {
		t.Fatalf("expected ErrUnknownRequest for a reply after the request was cleaned up, got %v", err)
	}
}

func TestReplyUnknownKey(t *testing.T) {
	m := New(func(ctx context.Context, key Key, description string) error { return nil }, Config{}, nil)
	err := m.Reply(Key{ConversationID: "nope"}, true)
	if err != ErrUnknownRequest {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestDuplicateOutstandingRequestRejected(t *testing.T) {
	m := New(func(ctx context.Context, key Key, description string) error { return nil }, Config{Timeout: time.Second}, nil)
	key := Key{ConversationID: "c1", TurnID: "t1", ToolName: "delete_event"}

	go m.RequestConfirmation(context.Background(), key, "first")
	time.Sleep(10 * time.Millisecond)

	_, err := m.RequestConfirmation(context.Background(), key, "second")
	if err == nil {
		t.Fatal("expected error for a duplicate outstanding request")
	}
	m.Reply(key, true)
}
