// Package translate maps messages between the Node-RED wire protocol and the
// internal bus. It holds no state and performs no I/O.
package translate

import (
	"strings"

	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/hive"
)

type destinationMode int

const (
	keepDestination destinationMode = iota
	clearDestination
	setDestination
)

type rule struct {
	types       []string
	rewrite     string
	destination destinationMode
	value       func() any
}

func (r rule) matches(msgType string) bool {
	for _, t := range r.types {
		if t == msgType {
			return true
		}
	}
	return false
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{types: []string{TypeQuery}, rewrite: TypeUtterance, destination: setDestination, value: func() any { return DestinationSkills }},
	{types: []string{TypeAnswer, TypeSpeak}, rewrite: TypeBusSpeak, destination: keepDestination},
	{types: []string{TypeTTS}, rewrite: TypeBusSpeak, destination: setDestination, value: func() any { return DestinationAudio() }},
	{types: []string{TypeListen}, rewrite: TypeMicListen, destination: setDestination, value: func() any { return DestinationAudio() }},
	{types: broadcastControl, destination: clearDestination},
}

// broadcastControl types keep their type and lose any specific destination so
// every default subscriber sees them.
var broadcastControl = []string{
	TypePing,
	TypeSpeak,
	TypeQuery,
	TypeTTS,
	TypeConverseActivate,
	TypeConverseDeactivate,
	TypeIntentFailure,
	TypePong,
	TypeListen,
}

// acknowledged types get a trailing success message after translation.
var acknowledged = map[string]bool{
	TypeAnswer: true,
	TypeSpeak:  true,
	TypeTTS:    true,
}

// InPeerNamespace reports whether msgType belongs to the bridge.
func InPeerNamespace(msgType string) bool {
	return strings.HasPrefix(msgType, Prefix)
}

// Classify resolves msgType to exactly one namespace.
func Classify(msgType string) Namespace {
	if !InPeerNamespace(msgType) {
		return NamespaceInternal
	}
	for _, r := range rules {
		if r.matches(msgType) {
			return NamespacePeerControl
		}
	}
	return NamespacePeer
}

// InboundResult is the outcome of translating one wire payload.
type InboundResult struct {
	// Passthrough is set when the payload is outside the peer namespace and
	// must be handled by the default relay behaviour instead.
	Passthrough bool
	// Messages to inject, in order.
	Messages []bus.Message
}

// Inbound translates a payload received from peer into bus messages. The
// payload itself is not modified.
func Inbound(p hive.Payload, peer string) InboundResult {
	if !InPeerNamespace(p.Type) {
		return InboundResult{Passthrough: true}
	}

	ctx := cloneMap(p.Context)
	ctx["source"] = peer
	ctx["platform"] = Platform

	msgType := p.Type
	applied := false
	for _, r := range rules {
		if !r.matches(p.Type) {
			continue
		}
		if r.rewrite != "" {
			msgType = r.rewrite
		}
		switch r.destination {
		case clearDestination:
			ctx["destination"] = nil
		case setDestination:
			ctx["destination"] = r.value()
		}
		applied = true
		break
	}
	if !applied {
		ctx["destination"] = DestinationSkills
	}

	out := InboundResult{
		Messages: []bus.Message{bus.NewMessage(msgType, cloneMap(p.Data), ctx)},
	}
	if acknowledged[p.Type] {
		out.Messages = append(out.Messages,
			bus.NewMessage(TypeSuccess, cloneMap(p.Data), cloneMap(ctx)))
	}
	return out
}

// Outbound decides whether a bus message must be pushed to peers. It returns
// hive.ErrEmptyType for messages without a type.
func Outbound(m bus.Message) (hive.Payload, bool, error) {
	if m.Type == "" {
		return hive.Payload{}, false, hive.ErrEmptyType
	}

	msgType := m.Type
	if msgType == TypeCompleteIntentFailure {
		msgType = TypeHiveIntentFailure
	}

	if msgType != TypeHiveIntentFailure && !InPeerNamespace(msgType) {
		return hive.Payload{}, false, nil
	}

	return hive.Payload{
		Type:    msgType,
		Data:    cloneMap(m.Data),
		Context: cloneMap(m.Context),
	}, true, nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
