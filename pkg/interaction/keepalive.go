package interaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// KeepaliveInterval is the default refresh period.
const KeepaliveInterval = 60 * time.Second

// Keepalive periodically calls an activation function while conversing is
// set, so that an external idle timeout does not end the conversation.
type Keepalive struct {
	interval time.Duration
	activate func()

	conversing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKeepalive(interval time.Duration, activate func()) *Keepalive {
	if interval <= 0 {
		interval = KeepaliveInterval
	}
	return &Keepalive{interval: interval, activate: activate}
}

func (k *Keepalive) SetConversing(on bool) { k.conversing.Store(on) }

func (k *Keepalive) Conversing() bool { return k.conversing.Load() }

// Start runs the loop until ctx is done or Stop is called. Calling Start on a
// running keepalive is a no-op.
func (k *Keepalive) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.done = make(chan struct{})
	go k.run(ctx, k.done)
}

func (k *Keepalive) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

func (k *Keepalive) tick() {
	if k.conversing.Load() && k.activate != nil {
		k.activate()
	}
}

// Stop cancels the loop and waits up to grace for it to exit. It reports
// whether the loop finished in time.
func (k *Keepalive) Stop(grace time.Duration) bool {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel, k.done = nil, nil
	k.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
