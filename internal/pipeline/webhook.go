package pipeline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

// WebhookSource receives HTTP-pushed events and normalizes them into
// the pipeline's Event envelope. It does not itself listen on a port —
// callers wire Handler into an existing http.ServeMux, following this
// codebase's pattern of a single shared server (internal/api) hosting
// many route handlers rather than one listener per concern.
type WebhookSource struct {
	out    chan Event
	secret []byte
}

// NewWebhookSource constructs a source with a bounded event queue and
// the shared-secret used to verify the `X-Webhook-Signature` header on each
// request.
func NewWebhookSource(secret string) *WebhookSource {
	return &WebhookSource{
		out:    make(chan Event, 256),
		secret: []byte(secret),
	}
}

// Start and Stop are no-ops: the webhook source's lifecycle is the HTTP
// server's, not an independent goroutine.
func (w *WebhookSource) Start() error { return nil }
func (w *WebhookSource) Stop() error  { close(w.out); return nil }

// Events returns the channel Handler pushes onto.
func (w *WebhookSource) Events() <-chan Event {
	return w.out
}

// Handler verifies the request's HMAC signature and body against the
// configured secret, then enqueues a normalized event. The signature
// header carries "sha256=<hex HMAC-SHA256(secret, raw body)>".
func (w *WebhookSource) Handler(wr http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(wr, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	if len(w.secret) > 0 {
		sig := r.Header.Get("X-Webhook-Signature")
		if !verifySignature(w.secret, body, sig) {
			http.Error(wr, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(wr, "invalid JSON body", http.StatusBadRequest)
		return
	}

	eventType, _ := payload["event_type"].(string)
	if eventType == "" {
		eventType = "webhook"
	}
	source, _ := payload["source"].(string)
	entityKey := source + ":" + eventType

	ev := Event{
		Source:     automation.SourceWebhook,
		EventType:  eventType,
		EntityKey:  entityKey,
		Data:       payload,
		OccurredAt: time.Now(),
	}

	select {
	case w.out <- ev:
		wr.WriteHeader(http.StatusAccepted)
	default:
		// Bounded queue full: drop-newest backpressure policy. The
		// request still succeeds from the caller's perspective — losing
		// one webhook delivery under load is preferable to blocking the
		// HTTP handler indefinitely.
		wr.WriteHeader(http.StatusAccepted)
	}
}

func verifySignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	given, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)
	return hmac.Equal(given, want)
}
