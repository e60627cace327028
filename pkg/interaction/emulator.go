// Package interaction turns the asynchronous peer protocol into blocking
// calls with a bounded wait.
//
// Each call to Begin creates its own conversation handle, so several
// interactions may be outstanding at once. A response names its conversation
// through the "conversation_id" context key; responses without one resolve the
// oldest outstanding conversation.
package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/metrics"
	"github.com/tinyland-inc/noderedmind/pkg/translate"
)

// ContextKey is the context field that correlates a response with its
// conversation.
const ContextKey = "conversation_id"

// DefaultTimeout bounds a wait when no timeout is given.
const DefaultTimeout = 15 * time.Second

// ErrClosed is returned by Begin after Close.
var ErrClosed = errors.New("interaction emulator closed")

// Outcome of a conversation.
type Outcome int

const (
	OutcomeUnset Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unset"
	}
}

// Emitter publishes messages on the internal bus.
type Emitter interface {
	Emit(msg bus.Message) error
}

// Pending is the handle of one outstanding conversation.
type Pending struct {
	ID       string
	Started  time.Time
	Deadline time.Time

	trigger *bus.Message
	result  chan Outcome
}

// Tag stamps the conversation id into the context of a copy of m.
func (p *Pending) Tag(m bus.Message) bus.Message {
	out := m.Clone()
	out.Context[ContextKey] = p.ID
	return out
}

// Emulator tracks outstanding conversations.
type Emulator struct {
	emitter Emitter
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*Pending
	order   []string
	closed  bool
}

// New creates an emulator. A non-positive timeout selects DefaultTimeout.
func New(emitter Emitter, timeout time.Duration) *Emulator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Emulator{
		emitter: emitter,
		timeout: timeout,
		pending: make(map[string]*Pending),
	}
}

// Timeout returns the default wait bound.
func (e *Emulator) Timeout() time.Duration { return e.timeout }

// Begin opens a conversation. trigger is the message that caused it and may be
// nil; it is used to address the timeout notification. A non-positive timeout
// uses the emulator default.
func (e *Emulator) Begin(trigger *bus.Message, timeout time.Duration) (*Pending, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	now := time.Now()
	p := &Pending{
		ID:       uuid.NewString(),
		Started:  now,
		Deadline: now.Add(timeout),
		result:   make(chan Outcome, 1),
	}
	if trigger != nil {
		t := trigger.Clone()
		p.trigger = &t
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	e.pending[p.ID] = p
	e.order = append(e.order, p.ID)
	return p, nil
}

// Succeed resolves the conversation named by m as successful. It has the
// shape of a bus.Handler.
func (e *Emulator) Succeed(m bus.Message) { e.Resolve(m, OutcomeSuccess) }

// Fail resolves the conversation named by m as failed.
func (e *Emulator) Fail(m bus.Message) { e.Resolve(m, OutcomeFailure) }

// Resolve completes a conversation and reports whether one was waiting.
func (e *Emulator) Resolve(m bus.Message, outcome Outcome) bool {
	e.mu.Lock()
	p := e.takeLocked(m.ContextString(ContextKey))
	e.mu.Unlock()

	if p == nil {
		logger.DebugCF("interaction", "Response without waiting conversation", map[string]any{
			"type": m.Type,
		})
		return false
	}
	p.result <- outcome
	return true
}

// takeLocked removes and returns the conversation with id, or the oldest one
// when id is empty.
func (e *Emulator) takeLocked(id string) *Pending {
	if id == "" {
		if len(e.order) == 0 {
			return nil
		}
		id = e.order[0]
	}
	p, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
	return p
}

// Wait blocks until the conversation is resolved, its deadline passes or ctx
// is done. It reports true only for a successful outcome. On timeout a
// node_red.timeout notification is emitted. Wait must not be called from a
// bus handler.
func (e *Emulator) Wait(ctx context.Context, p *Pending) bool {
	timer := time.NewTimer(time.Until(p.Deadline))
	defer timer.Stop()

	select {
	case outcome := <-p.result:
		return e.finish(p, outcome.String(), outcome == OutcomeSuccess)
	case <-timer.C:
	case <-ctx.Done():
		e.mu.Lock()
		taken := e.takeLocked(p.ID)
		e.mu.Unlock()
		if taken == nil {
			// resolved concurrently
			outcome := <-p.result
			return e.finish(p, outcome.String(), outcome == OutcomeSuccess)
		}
		return e.finish(p, "canceled", false)
	}

	e.mu.Lock()
	taken := e.takeLocked(p.ID)
	e.mu.Unlock()
	if taken == nil {
		outcome := <-p.result
		return e.finish(p, outcome.String(), outcome == OutcomeSuccess)
	}

	e.emitTimeout(p)
	return e.finish(p, "timeout", false)
}

func (e *Emulator) finish(p *Pending, outcome string, ok bool) bool {
	metrics.InteractionOutcomes.WithLabelValues(outcome).Inc()
	metrics.InteractionWait.Observe(time.Since(p.Started).Seconds())
	logger.DebugCF("interaction", "Conversation finished", map[string]any{
		"conversation": p.ID,
		"outcome":      outcome,
		"elapsed_ms":   time.Since(p.Started).Milliseconds(),
	})
	return ok
}

func (e *Emulator) emitTimeout(p *Pending) {
	var msg bus.Message
	if p.trigger != nil {
		msg = p.trigger.Reply(translate.TypeTimeout, nil)
	} else {
		msg = bus.NewMessage(translate.TypeTimeout, nil, nil)
	}
	msg.Context[ContextKey] = p.ID

	if err := e.emitter.Emit(msg); err != nil {
		logger.WarnCF("interaction", "Cannot emit timeout", map[string]any{
			"conversation": p.ID,
			"error":        err.Error(),
		})
	}
}

// Outstanding returns the number of open conversations.
func (e *Emulator) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close fails every outstanding conversation and rejects new ones.
func (e *Emulator) Close() {
	e.mu.Lock()
	e.closed = true
	open := make([]*Pending, 0, len(e.pending))
	for _, id := range e.order {
		open = append(open, e.pending[id])
	}
	e.pending = make(map[string]*Pending)
	e.order = nil
	e.mu.Unlock()

	for _, p := range open {
		p.result <- OutcomeFailure
	}
}
