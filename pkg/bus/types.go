package bus

// Wildcard subscribes a handler to every message type.
const Wildcard = "*"

// Message is the internal bus message: a type, a data payload and a routing
// context. Context carries at least "source" and "destination" once a message
// has crossed the relay.
type Message struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
}

// NewMessage builds a message, allocating empty maps for nil data or context.
func NewMessage(msgType string, data, context map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	if context == nil {
		context = map[string]any{}
	}
	return Message{Type: msgType, Data: data, Context: context}
}

// Clone returns a copy whose data and context maps can be modified without
// affecting m. Values inside the maps are shared.
func (m Message) Clone() Message {
	return Message{
		Type:    m.Type,
		Data:    copyMap(m.Data),
		Context: copyMap(m.Context),
	}
}

// Forward keeps the routing context and replaces type and data.
func (m Message) Forward(msgType string, data map[string]any) Message {
	if data == nil {
		data = copyMap(m.Data)
	}
	return NewMessage(msgType, data, copyMap(m.Context))
}

// Reply addresses a new message back to whoever sent m: source and
// destination are swapped in the copied context.
func (m Message) Reply(msgType string, data map[string]any) Message {
	ctx := copyMap(m.Context)
	src, hasSrc := ctx["source"]
	dst, hasDst := ctx["destination"]
	delete(ctx, "source")
	delete(ctx, "destination")
	if hasSrc {
		ctx["destination"] = src
	}
	if hasDst {
		ctx["source"] = dst
	}
	return NewMessage(msgType, data, ctx)
}

// ContextString returns a string context value, or "" when absent.
func (m Message) ContextString(key string) string {
	if v, ok := m.Context[key].(string); ok {
		return v
	}
	return ""
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
