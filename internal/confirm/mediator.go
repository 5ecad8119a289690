// Package confirm implements the Confirmation Mediator: it correlates a
// prompt sent to a front-end with the user's asynchronous reply, so a
// tool call that requires explicit confirmation can await a single bool
// result without the caller knowing how the reply arrives (button
// callback, chat message, etc).
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyResolved is returned by Reply when the request for a
// correlation id is still registered but has already been answered,
// timed out, or been cancelled; the reply is discarded.
var ErrAlreadyResolved = errors.New("confirm: request already resolved")

// ErrUnknownRequest is returned by Reply when no pending request
// matches the given correlation id (never registered, or already
// garbage-collected after resolution).
var ErrUnknownRequest = errors.New("confirm: unknown request")

// Key correlates a confirmation prompt with its reply, per spec.md
// §4.4: (conversation_id, turn_id, tool_name).
type Key struct {
	ConversationID string
	TurnID         string
	ToolName       string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ConversationID, k.TurnID, k.ToolName)
}

// Prompter delivers a rendered confirmation prompt to the conversation's
// originating interface. It must not block waiting for the reply —
// replies arrive later via Mediator.Reply.
type Prompter func(ctx context.Context, key Key, description string) error

type pending struct {
	reply    chan bool
	resolved bool
}

// Mediator correlates outstanding confirmation requests by Key and
// resolves them either from an incoming Reply or from a timeout, which
// is treated as denial per spec.md §4.4.
type Mediator struct {
	mu       sync.Mutex
	requests map[string]*pending

	prompt  Prompter
	timeout time.Duration
	logger  *slog.Logger
}

// Config bundles the Mediator's tunables. Zero Timeout falls back to
// the spec's default of 60 seconds.
type Config struct {
	Timeout time.Duration
}

func (c Config) orDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// New constructs a Mediator. prompt is the collaborator that delivers
// the confirmation prompt to the originating interface; logger may be
// nil.
func New(prompt Prompter, cfg Config, logger *slog.Logger) *Mediator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.orDefaults()
	return &Mediator{
		requests: make(map[string]*pending),
		prompt:   prompt,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// RequestConfirmation sends a prompt for the given key and blocks until
// a reply arrives, the timeout elapses (treated as denial), or ctx is
// cancelled (treated as denial). Only one request may be outstanding
// per key at a time.
func (m *Mediator) RequestConfirmation(ctx context.Context, key Key, description string) (bool, error) {
	id := key.String()

	m.mu.Lock()
	if _, exists := m.requests[id]; exists {
		m.mu.Unlock()
		return false, fmt.Errorf("confirm: request already outstanding for %s", id)
	}
	p := &pending{reply: make(chan bool, 1)}
	m.requests[id] = p
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.requests, id)
		m.mu.Unlock()
	}()

	if err := m.prompt(ctx, key, description); err != nil {
		return false, fmt.Errorf("deliver confirmation prompt: %w", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case approved := <-p.reply:
		return approved, nil
	case <-timer.C:
		m.logger.Warn("confirmation timed out, treating as denial", "key", id)
		m.markResolved(id)
		return false, nil
	case <-ctx.Done():
		m.logger.Warn("confirmation cancelled, treating as denial", "key", id)
		m.markResolved(id)
		return false, nil
	}
}

// Reply delivers an asynchronous confirmation answer for key. A reply
// that cannot be delivered is discarded and reported: ErrUnknownRequest
// when no request for key is registered (never requested, or finished
// and removed), ErrAlreadyResolved when the registered request has
// already been answered, timed out, or been cancelled.
func (m *Mediator) Reply(key Key, approved bool) error {
	id := key.String()

	m.mu.Lock()
	p, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownRequest
	}
	if p.resolved {
		m.mu.Unlock()
		return ErrAlreadyResolved
	}
	p.resolved = true
	m.mu.Unlock()

	select {
	case p.reply <- approved:
	default:
	}
	return nil
}

func (m *Mediator) markResolved(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.requests[id]; ok {
		p.resolved = true
	}
}
