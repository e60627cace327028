// Package broadcast fans a wire payload out to every connected peer.
package broadcast

import (
	"github.com/tinyland-inc/noderedmind/pkg/hive"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/metrics"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

// Result counts the outcome of one broadcast.
type Result struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Option adjusts a single broadcast.
type Option func(*options)

type options struct {
	exclude string
}

// ExcludeOrigin skips the peer with the given id.
func ExcludeOrigin(id string) Option {
	return func(o *options) { o.exclude = id }
}

// Broadcaster delivers payloads to the peers of a registry.
type Broadcaster struct {
	registry *peers.Registry
}

func New(registry *peers.Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast serializes p once and hands an identical copy to every peer in a
// snapshot of the registry. Peers removed before their turn are skipped.
// Delivery is fire-and-forget: per-peer errors are counted and logged only.
func (b *Broadcaster) Broadcast(p hive.Payload, opts ...Option) Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	data, err := p.Encode()
	if err != nil {
		logger.ErrorCF("broadcast", "Cannot encode payload", map[string]any{
			"type":  p.Type,
			"error": err.Error(),
		})
		return Result{}
	}

	var res Result
	for _, peer := range b.registry.Snapshot() {
		if o.exclude != "" && peer.ID == o.exclude {
			res.Skipped++
			continue
		}
		if !b.registry.Has(peer.ID) {
			res.Skipped++
			continue
		}
		// senders may retain the slice
		frame := make([]byte, len(data))
		copy(frame, data)
		if err := peer.Send(frame); err != nil {
			res.Failed++
			metrics.BroadcastDeliveries.WithLabelValues("error").Inc()
			logger.WarnCF("broadcast", "Delivery failed", map[string]any{
				"peer":  peer.ID,
				"type":  p.Type,
				"error": err.Error(),
			})
			continue
		}
		res.Delivered++
		metrics.BroadcastDeliveries.WithLabelValues("ok").Inc()
	}

	logger.DebugCF("broadcast", "Broadcast sent", map[string]any{
		"type":      p.Type,
		"delivered": res.Delivered,
		"failed":    res.Failed,
	})
	return res
}
