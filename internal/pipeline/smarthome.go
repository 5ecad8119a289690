package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
	"github.com/werdnum/family-assistant-go/internal/homeassistant"
)

// reconnect/health-probe constants per spec.md §4.1's smart-home stream
// description: base=5s, max=300s backoff; health probe every 30s;
// force-reconnect if no event has arrived for over 5 minutes while
// nominally healthy.
const (
	smartHomeBackoffBase   = 5 * time.Second
	smartHomeBackoffMax    = 300 * time.Second
	smartHomeProbeInterval = 30 * time.Second
	smartHomeStaleAfter    = 5 * time.Minute
)

// SmartHomeSource bridges the Home Assistant WebSocket client's blocking
// reconnect loop to the pipeline's bounded event queue, reconnecting
// with backoff and running its own lightweight health probe
// independent of the upstream client's internal state.
type SmartHomeSource struct {
	client      *homeassistant.WSClient
	eventTypes  []string // empty = subscribe to all
	out         chan Event
	logger      *slog.Logger
	lastEventAt atomic.Int64 // unix nanos

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSmartHomeSource constructs a source with a bounded event queue
// (capacity 256, matching this codebase's existing bounded-channel
// sizing for similar fan-in queues).
func NewSmartHomeSource(client *homeassistant.WSClient, eventTypes []string, logger *slog.Logger) *SmartHomeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SmartHomeSource{
		client:     client,
		eventTypes: eventTypes,
		out:        make(chan Event, 256),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start connects, subscribes, and launches the reconnect-with-backoff
// loop plus the health-probe loop as background goroutines.
func (s *SmartHomeSource) Start() error {
	s.wg.Add(2)
	go s.connectLoop()
	go s.healthProbeLoop()
	return nil
}

// Stop signals both background loops to exit and closes the client.
func (s *SmartHomeSource) Stop() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.client.Close()
}

// Events returns the channel sources push normalized events onto.
func (s *SmartHomeSource) Events() <-chan Event {
	return s.out
}

func (s *SmartHomeSource) connectLoop() {
	defer s.wg.Done()
	attempt := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.client.Connect(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("smart home connect failed", "attempt", attempt, "error", err)
			if !s.sleepBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		s.logger.Info("smart home stream connected")
		s.subscribe()
		s.lastEventAt.Store(time.Now().UnixNano())
		s.drainUntilDisconnect()

		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}

func (s *SmartHomeSource) subscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if len(s.eventTypes) == 0 {
		if err := s.client.Subscribe(ctx, ""); err != nil {
			s.logger.Warn("subscribe to all events failed", "error", err)
		}
		return
	}
	for _, et := range s.eventTypes {
		if err := s.client.Subscribe(ctx, et); err != nil {
			s.logger.Warn("subscribe failed", "event_type", et, "error", err)
		}
	}
}

// drainUntilDisconnect reads from the upstream client's event channel,
// normalizing and forwarding each event, until Stop or until the channel
// is closed. WSClient keeps one events channel across reconnects and
// does not close it when the connection drops, so a disconnect does not
// end this loop and connectLoop's backoff redial does not run for it;
// recovery from a dropped connection comes from healthProbeLoop.
func (s *SmartHomeSource) drainUntilDisconnect() {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.client.Events():
			if !ok {
				return
			}
			s.lastEventAt.Store(time.Now().UnixNano())
			s.forward(ev)
		}
	}
}

func (s *SmartHomeSource) forward(ev homeassistant.Event) {
	data := map[string]any{"event_type": ev.Type}
	var stateChanged homeassistant.StateChangedData
	if err := json.Unmarshal(ev.Data, &stateChanged); err == nil && stateChanged.EntityID != "" {
		data["entity_id"] = stateChanged.EntityID
		if stateChanged.OldState != nil {
			data["old_state"] = flattenState(stateChanged.OldState)
		}
		if stateChanged.NewState != nil {
			data["new_state"] = flattenState(stateChanged.NewState)
		}
	}
	out := Event{
		Source:     automation.SourceHome,
		EventType:  ev.Type,
		EntityKey:  stringOr(data["entity_id"], ev.Type),
		Data:       data,
		OccurredAt: ev.TimeFired,
	}
	select {
	case s.out <- out:
	default:
		s.logger.Warn("smart home event dropped: queue full", "event_type", ev.Type)
	}
}

func flattenState(state *homeassistant.State) any {
	// State values from the upstream arrive as a nested object; the
	// pipeline's structured matcher only needs the scalar state string
	// and attributes map, flattened one level per spec.md §4.1.
	b, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func (s *SmartHomeSource) sleepBackoff(attempt int) bool {
	delay := time.Duration(float64(smartHomeBackoffBase) * math.Pow(2, float64(attempt)))
	if delay > smartHomeBackoffMax {
		delay = smartHomeBackoffMax
	}
	select {
	case <-s.stopCh:
		return false
	case <-time.After(delay):
		return true
	}
}

// healthProbeLoop checks every 30s when the last event arrived; if that
// was over 5 minutes ago, it issues a lightweight query and, if the
// query fails, calls the client's Reconnect directly.
func (s *SmartHomeSource) healthProbeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(smartHomeProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			last := s.lastEventAt.Load()
			if last == 0 || time.Since(time.Unix(0, last)) <= smartHomeStaleAfter {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := s.client.GetAreaRegistry(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("smart home health probe failed, forcing reconnect", "error", err)
				_ = s.client.Reconnect(context.Background())
			}
		}
	}
}
