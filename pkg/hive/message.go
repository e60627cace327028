// Package hive defines the JSON wire format exchanged with relay peers.
//
// A peer sends frames shaped like
//
//	{"msg_type": "bus", "payload": {"msg_type": "node_red.query", "data": {...}, "context": {...}}}
//
// and receives bare payloads ({"msg_type", "data", "context"}).
package hive

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tinyland-inc/noderedmind/pkg/bus"
)

// Frame types understood by the default relay behaviour.
const (
	FrameBus       = "bus"
	FrameBroadcast = "broadcast"
	FramePropagate = "propagate"
	FrameEscalate  = "escalate"
)

// Event types used when relay-internal traffic is echoed to peers.
const (
	EventBus       = "relay.bus"
	EventBroadcast = "relay.broadcast"
	EventPropagate = "relay.propagate"
	EventEscalate  = "relay.escalate"
)

var (
	ErrMalformed = errors.New("malformed wire message")
	ErrEmptyType = errors.New("message has no type")
)

// Payload is the wire form of a bus message.
type Payload struct {
	Type    string         `json:"msg_type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
}

// Frame is the outer relay envelope.
type Frame struct {
	Type    string          `json:"msg_type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Node    string          `json:"node,omitempty"`
	Route   []any           `json:"route,omitempty"`
}

// DecodeFrame parses a raw text frame. The payload may be an object or a JSON
// encoded string holding an object.
func DecodeFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Frame{}, ErrMalformed
	}

	f := Frame{
		Type: root.Get("msg_type").String(),
		Node: root.Get("node").String(),
	}
	if route := root.Get("route"); route.IsArray() {
		if v, ok := route.Value().([]any); ok {
			f.Route = v
		}
	}

	payload := root.Get("payload")
	switch {
	case payload.Type == gjson.String:
		inner := payload.String()
		if !gjson.Valid(inner) {
			return Frame{}, fmt.Errorf("%w: payload string is not JSON", ErrMalformed)
		}
		f.Payload = json.RawMessage(inner)
	case payload.Exists():
		f.Payload = json.RawMessage(payload.Raw)
	}
	return f, nil
}

// DecodePayload parses a payload object. The type is read from "msg_type",
// falling back to "type". Missing data or context become empty maps.
func DecodePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{Data: map[string]any{}, Context: map[string]any{}}, nil
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return Payload{}, ErrMalformed
	}

	var body struct {
		Data    map[string]any `json:"data"`
		Context map[string]any `json:"context"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	p := Payload{
		Type:    gjson.GetBytes(raw, "msg_type").String(),
		Data:    body.Data,
		Context: body.Context,
	}
	if p.Type == "" {
		p.Type = gjson.GetBytes(raw, "type").String()
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	if p.Context == nil {
		p.Context = map[string]any{}
	}
	return p, nil
}

// Encode serializes the payload for delivery to peers.
func (p Payload) Encode() ([]byte, error) {
	if p.Type == "" {
		return nil, ErrEmptyType
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	if p.Context == nil {
		p.Context = map[string]any{}
	}
	return json.Marshal(p)
}

// Message converts the payload to a bus message.
func (p Payload) Message() bus.Message {
	return bus.NewMessage(p.Type, p.Data, p.Context)
}

// FromMessage converts a bus message to its wire form.
func FromMessage(m bus.Message) Payload {
	return Payload{Type: m.Type, Data: m.Data, Context: m.Context}
}

// Wrap builds the payload used to echo relay-internal traffic to peers: the
// original payload object becomes the data of an eventType message.
func Wrap(eventType string, raw json.RawMessage) Payload {
	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = map[string]any{"payload": string(raw)}
		}
	}
	return Payload{Type: eventType, Data: data, Context: map[string]any{}}
}
