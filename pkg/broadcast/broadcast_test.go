package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/noderedmind/pkg/hive"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

type capture struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *capture) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestBroadcastDeliversIdenticalCopies(t *testing.T) {
	reg := peers.NewRegistry()
	caps := make([]*capture, 5)
	for i := range caps {
		caps[i] = &capture{}
		reg.Add(peers.NewPeer(fmt.Sprintf("p%d", i), caps[i]))
	}

	res := New(reg).Broadcast(hive.Payload{Type: "node_red.fallback", Data: map[string]any{"utterance": "hi"}})
	assert.Equal(t, Result{Delivered: 5}, res)

	want := caps[0].frames[0]
	for _, c := range caps {
		require.Len(t, c.frames, 1)
		assert.Equal(t, want, c.frames[0])
	}
	assert.JSONEq(t, `{"msg_type":"node_red.fallback","data":{"utterance":"hi"},"context":{}}`, string(want))
}

func TestBroadcastSkipsPeerRemovedMidIteration(t *testing.T) {
	reg := peers.NewRegistry()
	late := &capture{}
	// p0 is visited first (snapshot is ordered by id) and disconnects p1
	reg.Add(peers.NewPeer("p0", peers.SenderFunc(func([]byte) error {
		reg.Remove("p1")
		return nil
	})))
	reg.Add(peers.NewPeer("p1", late))
	after := &capture{}
	reg.Add(peers.NewPeer("p2", after))

	var res Result
	assert.NotPanics(t, func() {
		res = New(reg).Broadcast(hive.Payload{Type: "relay.bus"})
	})
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, late.count())
	assert.Equal(t, 1, after.count())
}

func TestBroadcastCountsFailures(t *testing.T) {
	reg := peers.NewRegistry()
	reg.Add(peers.NewPeer("bad", peers.SenderFunc(func([]byte) error { return errors.New("closed") })))
	ok := &capture{}
	reg.Add(peers.NewPeer("good", ok))

	res := New(reg).Broadcast(hive.Payload{Type: "node_red.ping"})
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, ok.count())
}

func TestBroadcastExcludeOrigin(t *testing.T) {
	reg := peers.NewRegistry()
	origin := &capture{}
	other := &capture{}
	reg.Add(peers.NewPeer("origin", origin))
	reg.Add(peers.NewPeer("other", other))

	res := New(reg).Broadcast(hive.Payload{Type: "relay.bus"}, ExcludeOrigin("origin"))
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 0, origin.count())
	assert.Equal(t, 1, other.count())
}

func TestBroadcastEmptyType(t *testing.T) {
	reg := peers.NewRegistry()
	c := &capture{}
	reg.Add(peers.NewPeer("p", c))

	res := New(reg).Broadcast(hive.Payload{})
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, c.count())
}
