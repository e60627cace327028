package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/hive"
)

func payload(msgType string, data, ctx map[string]any) hive.Payload {
	if data == nil {
		data = map[string]any{}
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	return hive.Payload{Type: msgType, Data: data, Context: ctx}
}

func TestInbound_RewriteTable(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantDest any
		destSet  bool
		wantAck  bool
	}{
		{TypeQuery, TypeUtterance, DestinationSkills, true, false},
		{TypeAnswer, TypeBusSpeak, nil, false, true},
		{TypeSpeak, TypeBusSpeak, nil, false, true},
		{TypeTTS, TypeBusSpeak, []string{"audio"}, true, true},
		{TypeListen, TypeMicListen, []string{"audio"}, true, false},
		{TypePing, TypePing, nil, true, false},
		{TypePong, TypePong, nil, true, false},
		{TypeConverseActivate, TypeConverseActivate, nil, true, false},
		{TypeConverseDeactivate, TypeConverseDeactivate, nil, true, false},
		{TypeIntentFailure, TypeIntentFailure, nil, true, false},
		{"node_red.custom.event", "node_red.custom.event", DestinationSkills, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res := Inbound(payload(tt.in, map[string]any{"utterance": "hello"}, nil), "peer-1")
			require.False(t, res.Passthrough)

			primary := res.Messages[0]
			assert.Equal(t, tt.wantType, primary.Type)
			assert.Equal(t, "peer-1", primary.Context["source"])
			assert.Equal(t, Platform, primary.Context["platform"])
			assert.Equal(t, "hello", primary.Data["utterance"])

			dest, ok := primary.Context["destination"]
			if tt.destSet {
				require.True(t, ok, "destination must be present")
				assert.Equal(t, tt.wantDest, dest)
			} else {
				assert.False(t, ok, "destination must be left untouched")
			}

			if tt.wantAck {
				require.Len(t, res.Messages, 2)
				assert.Equal(t, TypeSuccess, res.Messages[1].Type)
				assert.Equal(t, primary.Data, res.Messages[1].Data)
				assert.Equal(t, primary.Context, res.Messages[1].Context)
			} else {
				assert.Len(t, res.Messages, 1)
			}
		})
	}
}

func TestInbound_AnswerKeepsPeerDestination(t *testing.T) {
	res := Inbound(payload(TypeAnswer, nil, map[string]any{"destination": "audio"}), "p")
	assert.Equal(t, "audio", res.Messages[0].Context["destination"])
}

func TestInbound_BroadcastControlIgnoresPayload(t *testing.T) {
	for _, msgType := range []string{TypePing, TypePong, TypeIntentFailure, TypeConverseActivate} {
		res := Inbound(payload(msgType,
			map[string]any{"destination": "skills"},
			map[string]any{"destination": []string{"somewhere"}}), "p")
		v, ok := res.Messages[0].Context["destination"]
		assert.True(t, ok)
		assert.Nil(t, v, msgType)
	}
}

func TestInbound_Passthrough(t *testing.T) {
	for _, msgType := range []string{"speak", "recognizer_loop:utterance", "", "nodered.query"} {
		res := Inbound(payload(msgType, nil, nil), "p")
		assert.True(t, res.Passthrough, msgType)
		assert.Empty(t, res.Messages)
	}
}

func TestInbound_DoesNotMutateInput(t *testing.T) {
	in := payload(TypeQuery, map[string]any{"utterances": []string{"x"}}, map[string]any{"session": "s"})
	_ = Inbound(in, "p")

	assert.Equal(t, map[string]any{"session": "s"}, in.Context)
	assert.Equal(t, TypeQuery, in.Type)
}

func TestInbound_PrimaryBeforeAck(t *testing.T) {
	res := Inbound(payload(TypeSpeak, nil, nil), "p")
	require.Len(t, res.Messages, 2)
	assert.Equal(t, TypeBusSpeak, res.Messages[0].Type)
	assert.Equal(t, TypeSuccess, res.Messages[1].Type)

	// the two messages must not share maps
	res.Messages[1].Context["x"] = 1
	_, leaked := res.Messages[0].Context["x"]
	assert.False(t, leaked)
}

func TestClassifyIsTotal(t *testing.T) {
	assert.Equal(t, NamespaceInternal, Classify("speak"))
	assert.Equal(t, NamespaceInternal, Classify(""))
	assert.Equal(t, NamespacePeerControl, Classify(TypeQuery))
	assert.Equal(t, NamespacePeerControl, Classify(TypeAnswer))
	assert.Equal(t, NamespacePeerControl, Classify(TypePong))
	assert.Equal(t, NamespacePeer, Classify("node_red.fallback"))
	assert.Equal(t, "peer", NamespacePeer.String())
}

func TestOutbound(t *testing.T) {
	t.Run("empty type", func(t *testing.T) {
		var p hive.Payload
		var ok bool
		var err error
		assert.NotPanics(t, func() { p, ok, err = Outbound(bus.Message{}) })
		assert.ErrorIs(t, err, hive.ErrEmptyType)
		assert.False(t, ok)
		assert.Empty(t, p.Type)
	})

	t.Run("internal message stays internal", func(t *testing.T) {
		_, ok, err := Outbound(bus.NewMessage("speak", nil, nil))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("namespaced message forwarded", func(t *testing.T) {
		m := bus.NewMessage(TypeFallback, map[string]any{"utterance": "x"}, map[string]any{"source": "skills"})
		p, ok, err := Outbound(m)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, TypeFallback, p.Type)
		assert.Equal(t, "x", p.Data["utterance"])
		assert.Equal(t, "skills", p.Context["source"])
	})

	t.Run("intent failure rewritten", func(t *testing.T) {
		m := bus.NewMessage(TypeCompleteIntentFailure, nil, nil)
		p, ok, err := Outbound(m)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, TypeHiveIntentFailure, p.Type)
		assert.Equal(t, TypeCompleteIntentFailure, m.Type)
	})

	t.Run("nil context tolerated", func(t *testing.T) {
		p, ok, err := Outbound(bus.Message{Type: TypePing})
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotNil(t, p.Context)
	})
}
