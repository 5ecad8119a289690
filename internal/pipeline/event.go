// Package pipeline implements the event pipeline: multi-source
// ingestion, per-source sampling/dedup, fan-out match evaluation
// against the automation registry, and action dispatch. It is the
// fan-in counterpart to internal/eventbus's fan-out broadcast — this
// package owns the domain event model; eventbus carries pipeline
// instrumentation out to operational observers.
package pipeline

import (
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

// Event is the normalized envelope every source produces, regardless of
// origin. Data carries source-specific fields (flattened Home Assistant
// state, webhook JSON body, indexing metadata, or the triggering
// automation for schedule events) as a nested map so dotted-path match
// conditions can traverse it uniformly.
type Event struct {
	Source    automation.SourceID
	EventType string
	EntityKey string // sampler dedup key component; source-specific meaning
	Data      map[string]any
	OccurredAt time.Time
}

// Source is the lifecycle contract every event producer implements:
// smart-home stream, webhook receiver, indexing signals, schedule
// ticker. Emit pushes onto the bounded channel returned by Events; a
// full channel drops the event (documented backpressure policy) rather
// than blocking the source.
type Source interface {
	Start() error
	Stop() error
	Events() <-chan Event
}

// lookup traverses Data along a dot-separated path. Missing segments
// and non-map intermediate values both yield (nil, false) — "missing
// path ⇒ no match" per spec.md §4.2 — and arrays terminate traversal
// the same way ("arrays are opaque to structured matching").
func (e Event) lookup(path string) (any, bool) {
	var cur any = map[string]any(e.Data)
	for _, segment := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[segment]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

// MatchesStructured reports whether every entry in conditions holds
// against the event, using dotted-path equality. A non-scalar target
// value never matches (§4.2: "non-scalar target ⇒ no match").
func (e Event) MatchesStructured(conditions map[string]any) bool {
	for path, want := range conditions {
		got, ok := e.lookup(path)
		if !ok {
			return false
		}
		if !isScalar(got) {
			return false
		}
		if !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, int, int64, float64:
		return true
	default:
		return false
	}
}

func scalarEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return float64(n), true
	default:
		return 0, false
	}
}
