package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
	"github.com/werdnum/family-assistant-go/internal/eventbus"
	"github.com/werdnum/family-assistant-go/internal/sandbox"
)

// WakeAgent is the external collaborator the wake_agent action calls.
// It returns once the agent has produced a response or failed
// permanently; transient retries are the implementation's concern, not
// the processor's (spec.md §4.4).
type WakeAgent func(ctx context.Context, conversationID string, triggerContext map[string]any) (turnID string, err error)

// ActionDispatcher is the minimal seam the processor calls through,
// letting action execution be swapped or stubbed independently of
// match/sampling logic in tests.
type ActionDispatcher struct {
	wakeAgent WakeAgent
	sandbox   *sandbox.Sandbox
	bus       *eventbus.Bus // operational instrumentation, not domain fan-out
}

// NewActionDispatcher constructs a dispatcher. bus may be nil if no
// operational instrumentation is wired.
func NewActionDispatcher(wakeAgent WakeAgent, sb *sandbox.Sandbox, bus *eventbus.Bus) *ActionDispatcher {
	return &ActionDispatcher{wakeAgent: wakeAgent, sandbox: sb, bus: bus}
}

// Dispatch executes a's action against the triggering event, returning
// {"turn_id": ...} for wake_agent actions, or the script's return value
// (an attachment descriptor, a plain value, or nil) for script actions.
func (d *ActionDispatcher) Dispatch(ctx context.Context, a automation.Automation, ev Event) (any, error) {
	d.publish("automation.dispatch.start", a, ev)
	switch a.ActionType {
	case automation.ActionWakeAgent:
		description, _ := a.ActionConfig["description"].(string)
		promptOverride, _ := a.ActionConfig["prompt_override"].(string)
		trigger := map[string]any{
			"conversation_id": a.ConversationID,
			"interface_type":  a.InterfaceType,
			"triggering_event": map[string]any{
				"source":     string(ev.Source),
				"event_type": ev.EventType,
				"data":       ev.Data,
			},
			"description": description,
		}
		if promptOverride != "" {
			trigger["optional_prompt_override"] = promptOverride
		}
		turnID, err := d.wakeAgent(ctx, a.ConversationID, trigger)
		if err != nil {
			d.publish("automation.dispatch.error", a, ev)
			return nil, err
		}
		d.publish("automation.dispatch.ok", a, ev)
		return map[string]any{"turn_id": turnID}, nil
	case automation.ActionScript:
		code, _ := a.ActionConfig["script_code"].(string)
		res := d.sandbox.EvalAction(ctx, code, ev.Data)
		if res.Outcome != sandbox.OutcomeOK {
			d.publish("automation.dispatch.error", a, ev)
			return nil, res.Err
		}
		d.publish("automation.dispatch.ok", a, ev)
		return res.Value, nil
	default:
		return nil, errUnsupportedAction(a.ActionType)
	}
}

func (d *ActionDispatcher) publish(kind string, a automation.Automation, ev Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{
		Timestamp: time.Now(),
		Source:    eventbus.SourceAutomation,
		Kind:      kind,
		Data: map[string]any{
			"automation_id": a.ID,
			"event_type":    ev.EventType,
		},
	})
}

type unsupportedActionError string

func (e unsupportedActionError) Error() string { return "pipeline: unsupported action type: " + string(e) }

func errUnsupportedAction(t automation.ActionType) error {
	return unsupportedActionError(t)
}

// Processor fans in events from all registered sources, samples/dedups
// per source, evaluates matches against the registry's listener
// snapshot, and dispatches matched automations on a bounded worker
// pool so one slow agent turn cannot starve other listeners
// (spec.md §4.4, §5).
type Processor struct {
	registry   *automation.Registry
	store      *automation.Store
	sandbox    *sandbox.Sandbox
	dispatcher *ActionDispatcher
	logger     *slog.Logger

	sources      []Source
	workerCount  int
	sampleWindow time.Duration
	fanIn        chan Event
}

// Config bundles the processor's tunables. Zero values fall back to
// the package defaults.
type Config struct {
	WorkerCount  int           // default 4, per spec.md §5
	SampleWindow time.Duration // dedup window per (source, entity); default 30s
}

func (c Config) orDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = 30 * time.Second
	}
	return c
}

// NewProcessor constructs a Processor. Call AddSource for each source
// before Run.
func NewProcessor(registry *automation.Registry, store *automation.Store, sb *sandbox.Sandbox, dispatcher *ActionDispatcher, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.orDefaults()
	return &Processor{
		registry:     registry,
		store:        store,
		sandbox:      sb,
		dispatcher:   dispatcher,
		logger:       logger,
		workerCount:  cfg.WorkerCount,
		sampleWindow: cfg.SampleWindow,
		fanIn:        make(chan Event, 512),
	}
}

// AddSource registers a source whose Start/Stop lifecycle the
// Processor will drive from Run/Shutdown, and whose Events channel
// feeds the fan-in queue.
func (p *Processor) AddSource(s Source) {
	p.sources = append(p.sources, s)
}

// Run starts every registered source, launches the worker pool, and
// blocks until ctx is cancelled. Shutdown is cooperative: sources are
// stopped first, then the fan-in queue is drained with a deadline,
// then workers exit.
func (p *Processor) Run(ctx context.Context) error {
	for _, s := range p.sources {
		if err := s.Start(); err != nil {
			return err
		}
	}

	fanCtx, cancelFan := context.WithCancel(ctx)
	defer cancelFan()
	for _, s := range p.sources {
		go p.pump(fanCtx, s)
	}

	done := make(chan struct{})
	for i := 0; i < p.workerCount; i++ {
		go p.worker(ctx, done)
	}

	<-ctx.Done()

	for _, s := range p.sources {
		if err := s.Stop(); err != nil {
			p.logger.Warn("source stop failed", "error", err)
		}
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDrain()
	p.drain(drainCtx)

	close(done)
	return nil
}

func (p *Processor) pump(ctx context.Context, s Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			select {
			case p.fanIn <- ev:
			default:
				p.logger.Warn("fan-in queue full, dropping event", "source", ev.Source, "event_type", ev.EventType)
			}
		}
	}
}

func (p *Processor) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.fanIn:
			p.handle(context.Background(), ev)
		default:
			return
		}
	}
}

func (p *Processor) worker(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-p.fanIn:
			p.handle(ctx, ev)
		}
	}
}

// handle runs the full per-event pipeline: sample/dedup, match against
// the listener snapshot, evaluate structured then sandbox conditions,
// dispatch, and record execution accounting.
func (p *Processor) handle(ctx context.Context, ev Event) {
	// Sampling only limits what is stored; a repeat within the window is
	// still matched and dispatched.
	p.sample(ev)

	snap := p.registry.Listeners()
	candidates := snap.BySource[ev.Source]
	for _, a := range candidates {
		if !a.Enabled {
			continue
		}
		if !ev.MatchesStructured(a.MatchConditions) {
			continue
		}
		if a.ConditionScript != "" {
			res := p.sandbox.EvalCondition(ctx, a.ConditionScript, ev.Data)
			if res.Outcome != sandbox.OutcomeOK || res.Value != true {
				// Sandbox timeout/error treated as false match per
				// spec.md's error-handling table; logged, not fatal.
				if res.Outcome != sandbox.OutcomeOK {
					p.logger.Warn("condition script error", "automation_id", a.ID, "outcome", res.Outcome, "error", res.Err)
				}
				continue
			}
		}

		if _, err := p.dispatcher.Dispatch(ctx, a, ev); err != nil {
			p.logger.Warn("action dispatch failed", "automation_id", a.ID, "error", err)
			continue
		}
		if err := p.registry.RecordExecution(a.Kind, a.ID, time.Now()); err != nil {
			p.logger.Warn("record execution failed", "automation_id", a.ID, "error", err)
		}
	}
}

// sample records the event in the per-source sampling window, returning
// false when it is a repeat within the window (not a new stored sample).
// It does not gate dispatch. Open Question decision #2: the dedup key
// is uniformly (source_id, entity_key).
func (p *Processor) sample(ev Event) bool {
	count, windowStart, err := p.store.Sample(ev.Source, ev.EntityKey, ev.OccurredAt)
	if err != nil {
		p.logger.Warn("sampler error, allowing event through", "error", err)
		return true
	}
	if ev.OccurredAt.Sub(windowStart) > p.sampleWindow {
		if err := p.store.ResetSampleWindow(ev.Source, ev.EntityKey, ev.OccurredAt); err != nil {
			p.logger.Warn("sample window reset failed", "error", err)
		}
		return true
	}
	return count <= 1
}
