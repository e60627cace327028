package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/noderedmind/pkg/logger"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// Handler receives a dispatched message. Handlers run on the dispatcher
// goroutine and must not block; long running work belongs on its own goroutine.
type Handler func(Message)

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

// MessageBus is an in-process publish/subscribe bus. Messages are dispatched
// in emission order by a single goroutine started with Run. The queue is
// unbounded so handlers may emit from the dispatcher goroutine.
type MessageBus struct {
	qmu     sync.Mutex
	pending []Message
	wake    chan struct{}
	done    chan struct{}
	closed  atomic.Bool

	mu       sync.RWMutex
	handlers map[string][]*subscription
	nextID   atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		handlers: make(map[string][]*subscription),
	}
}

// Publish queues msg for dispatch. It never waits for the dispatcher.
func (mb *MessageBus) Publish(ctx context.Context, msg Message) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mb.qmu.Lock()
	mb.pending = append(mb.pending, msg)
	mb.qmu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued, undispatched messages.
func (mb *MessageBus) Len() int {
	mb.qmu.Lock()
	defer mb.qmu.Unlock()
	return len(mb.pending)
}

func (mb *MessageBus) take() []Message {
	mb.qmu.Lock()
	defer mb.qmu.Unlock()
	batch := mb.pending
	mb.pending = nil
	return batch
}

// Emit queues msg for dispatch without a deadline.
func (mb *MessageBus) Emit(msg Message) error {
	return mb.Publish(context.Background(), msg)
}

// On registers handler for msgType (or Wildcard) and returns a function that
// removes the subscription.
func (mb *MessageBus) On(msgType string, handler Handler) func() {
	return mb.subscribe(msgType, handler, false)
}

// Once registers handler for the next message of msgType only.
func (mb *MessageBus) Once(msgType string, handler Handler) func() {
	return mb.subscribe(msgType, handler, true)
}

func (mb *MessageBus) subscribe(msgType string, handler Handler, once bool) func() {
	sub := &subscription{id: mb.nextID.Add(1), handler: handler, once: once}

	mb.mu.Lock()
	mb.handlers[msgType] = append(mb.handlers[msgType], sub)
	mb.mu.Unlock()

	return func() { mb.remove(msgType, sub.id) }
}

func (mb *MessageBus) remove(msgType string, id uint64) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	subs := mb.handlers[msgType]
	for i, s := range subs {
		if s.id == id {
			mb.handlers[msgType] = append(subs[:i:i], subs[i+1:]...)
			if len(mb.handlers[msgType]) == 0 {
				delete(mb.handlers, msgType)
			}
			return true
		}
	}
	return false
}

// Run dispatches queued messages until ctx is done or the bus is closed.
func (mb *MessageBus) Run(ctx context.Context) {
	for {
		for _, msg := range mb.take() {
			select {
			case <-mb.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			mb.dispatch(msg)
		}

		select {
		case <-mb.wake:
		case <-mb.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (mb *MessageBus) dispatch(msg Message) {
	mb.mu.RLock()
	targets := make([]*subscription, 0, len(mb.handlers[msg.Type])+len(mb.handlers[Wildcard]))
	targets = append(targets, mb.handlers[msg.Type]...)
	if msg.Type != Wildcard {
		targets = append(targets, mb.handlers[Wildcard]...)
	}
	mb.mu.RUnlock()

	for _, sub := range targets {
		if sub.once {
			key := msg.Type
			if !mb.remove(key, sub.id) && !mb.remove(Wildcard, sub.id) {
				// already consumed by an earlier dispatch
				continue
			}
		}
		mb.invoke(sub.handler, msg)
	}
}

func (mb *MessageBus) invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bus", "Handler panicked", map[string]any{
				"type":  msg.Type,
				"panic": r,
			})
		}
	}()
	h(msg)
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
