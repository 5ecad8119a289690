package pipeline

import (
	"log/slog"
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

// ScheduleSource polls the automation registry for due schedule-kind
// automations and emits one Event per due automation. It is driven by
// internal/recurrence indirectly: the registry computes and stores
// next_scheduled_at using that engine, so this source only needs a
// plain due-time comparison.
type ScheduleSource struct {
	registry *automation.Registry
	interval time.Duration
	out      chan Event
	logger   *slog.Logger
	stopCh   chan struct{}
	done     chan struct{}
}

// NewScheduleSource constructs a source that polls every interval
// (typically a few seconds — coarser than that wastes fidelity on
// minute-granularity schedules, finer wastes store round-trips).
func NewScheduleSource(registry *automation.Registry, interval time.Duration, logger *slog.Logger) *ScheduleSource {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ScheduleSource{
		registry: registry,
		interval: interval,
		out:      make(chan Event, 64),
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *ScheduleSource) Start() error {
	go s.loop()
	return nil
}

func (s *ScheduleSource) Stop() error {
	close(s.stopCh)
	<-s.done
	return nil
}

func (s *ScheduleSource) Events() <-chan Event {
	return s.out
}

func (s *ScheduleSource) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *ScheduleSource) tick() {
	now := time.Now()
	automations, err := s.registry.DueSchedules(now)
	if err != nil {
		s.logger.Warn("schedule source: list due schedules failed", "error", err)
		return
	}
	for _, a := range automations {
		ev := Event{
			Source:    automation.SourceID("schedule"),
			EventType: "schedule_fired",
			EntityKey: a.Name,
			Data: map[string]any{
				"automation_id":   a.ID,
				"automation_name": a.Name,
			},
			OccurredAt: now,
		}
		select {
		case s.out <- ev:
		default:
			s.logger.Warn("schedule event dropped: queue full", "automation_id", a.ID)
		}
	}
}

