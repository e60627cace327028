// Package relay connects Node-RED peers to the internal bus.
package relay

import (
	"context"
	"encoding/json"

	"github.com/tinyland-inc/noderedmind/pkg/broadcast"
	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/hive"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/metrics"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
	"github.com/tinyland-inc/noderedmind/pkg/translate"
)

// Bus is the part of the internal bus the relay needs.
type Bus interface {
	Publish(ctx context.Context, msg bus.Message) error
	On(msgType string, handler bus.Handler) func()
}

// MessageHandler handles both directions of relay traffic.
type MessageHandler interface {
	// HandleInbound processes one raw frame received from peer.
	HandleInbound(ctx context.Context, peer *peers.Peer, raw []byte)
	// HandleOutbound offers a bus message to the peers.
	HandleOutbound(msg bus.Message)
}

// Handler is the default MessageHandler.
type Handler struct {
	bus          Bus
	broadcaster  *broadcast.Broadcaster
	echoToOrigin bool
}

type HandlerOption func(*Handler)

// WithEchoToOrigin controls whether a peer receives the echo of its own
// traffic. The default is true.
func WithEchoToOrigin(on bool) HandlerOption {
	return func(h *Handler) { h.echoToOrigin = on }
}

func NewHandler(b Bus, broadcaster *broadcast.Broadcaster, opts ...HandlerOption) *Handler {
	h := &Handler{
		bus:          b,
		broadcaster:  broadcaster,
		echoToOrigin: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach subscribes the outbound path to every bus message and returns the
// unsubscribe function.
func (h *Handler) Attach() func() {
	return h.bus.On(bus.Wildcard, h.HandleOutbound)
}

func (h *Handler) HandleInbound(ctx context.Context, peer *peers.Peer, raw []byte) {
	frame, err := hive.DecodeFrame(raw)
	if err != nil {
		metrics.InboundFrames.WithLabelValues("malformed").Inc()
		logger.WarnCF("relay", "Dropping malformed frame", map[string]any{
			"peer":  peer.ID,
			"error": err.Error(),
		})
		return
	}

	switch frame.Type {
	case hive.FrameBus:
		h.handleBus(ctx, peer, frame)
	case hive.FrameBroadcast:
		h.echo(peer, frame, hive.EventBroadcast)
	case hive.FramePropagate:
		h.echo(peer, frame, hive.EventPropagate)
	case hive.FrameEscalate:
		h.echo(peer, frame, hive.EventEscalate)
	default:
		metrics.InboundFrames.WithLabelValues("unknown").Inc()
		logger.WarnCF("relay", "Unknown frame type", map[string]any{
			"peer": peer.ID,
			"type": frame.Type,
		})
	}
}

func (h *Handler) handleBus(ctx context.Context, peer *peers.Peer, frame hive.Frame) {
	payload, err := hive.DecodePayload(frame.Payload)
	if err != nil {
		metrics.InboundFrames.WithLabelValues("malformed").Inc()
		logger.WarnCF("relay", "Dropping malformed payload", map[string]any{
			"peer":  peer.ID,
			"error": err.Error(),
		})
		return
	}
	if !peer.Policy.AllowsMessage(payload.Type) {
		h.blocked(peer, payload.Type)
		return
	}

	res := translate.Inbound(payload, peer.ID)
	if !res.Passthrough {
		metrics.InboundFrames.WithLabelValues(translate.Classify(payload.Type).String()).Inc()
		for _, msg := range res.Messages {
			if !peer.Policy.AllowsMessage(msg.Type) {
				h.blocked(peer, msg.Type)
				return
			}
			h.inject(ctx, peer, msg)
		}
		return
	}

	// default relay behaviour: the payload goes to the bus as sent and peers
	// observe it through the relay.bus echo
	metrics.InboundFrames.WithLabelValues(translate.NamespaceInternal.String()).Inc()
	if payload.Type == "" {
		logger.WarnCF("relay", "Dropping bus frame without type", map[string]any{"peer": peer.ID})
		return
	}
	msg := payload.Message()
	msg.Context["source"] = peer.ID
	h.inject(ctx, peer, msg)
	h.echo(peer, frame, hive.EventBus)
}

func (h *Handler) inject(ctx context.Context, peer *peers.Peer, msg bus.Message) {
	if len(peer.Policy.Skills) > 0 {
		msg.Context["blacklisted_skills"] = append([]string(nil), peer.Policy.Skills...)
	}
	if len(peer.Policy.Intents) > 0 {
		msg.Context["blacklisted_intents"] = append([]string(nil), peer.Policy.Intents...)
	}

	if err := h.bus.Publish(ctx, msg); err != nil {
		logger.ErrorCF("relay", "Cannot inject message", map[string]any{
			"peer":  peer.ID,
			"type":  msg.Type,
			"error": err.Error(),
		})
		return
	}
	metrics.BusInjections.WithLabelValues(msg.Type).Inc()
	logger.DebugCF("relay", "Injected message", map[string]any{
		"peer": peer.ID,
		"type": msg.Type,
	})
}

func (h *Handler) blocked(peer *peers.Peer, msgType string) {
	metrics.InboundFrames.WithLabelValues("blocked").Inc()
	logger.WarnCF("relay", "Message type blacklisted for peer", map[string]any{
		"peer": peer.ID,
		"name": peer.Name,
		"type": msgType,
	})
}

func (h *Handler) echo(peer *peers.Peer, frame hive.Frame, event string) {
	logger.InfoCF("relay", "Relay message received", map[string]any{
		"peer":  peer.ID,
		"frame": frame.Type,
		"node":  frame.Node,
	})
	if len(frame.Route) > 0 {
		route, _ := json.Marshal(frame.Route)
		logger.DebugCF("relay", "Relay route", map[string]any{"route": string(route)})
	}
	if frame.Type != hive.FrameBus {
		metrics.InboundFrames.WithLabelValues(translate.NamespaceInternal.String()).Inc()
	}

	var opts []broadcast.Option
	if !h.echoToOrigin {
		opts = append(opts, broadcast.ExcludeOrigin(peer.ID))
	}
	h.broadcaster.Broadcast(hive.Wrap(event, frame.Payload), opts...)
}

func (h *Handler) HandleOutbound(msg bus.Message) {
	payload, ok, err := translate.Outbound(msg)
	if err != nil {
		metrics.OutboundDropped.WithLabelValues("empty_type").Inc()
		logger.ErrorCF("relay", "Cannot forward bus message", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if !ok {
		return
	}

	var opts []broadcast.Option
	if !h.echoToOrigin {
		if origin := msg.ContextString("source"); origin != "" {
			opts = append(opts, broadcast.ExcludeOrigin(origin))
		}
	}
	h.broadcaster.Broadcast(payload, opts...)
	metrics.OutboundForwards.Inc()
}
