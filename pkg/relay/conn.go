package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
)

// ErrSendQueueFull is returned when a slow peer has too many frames pending.
var ErrSendQueueFull = errors.New("peer send queue full")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// conn is one websocket peer. Writes go through a buffered queue drained by
// writeLoop so that Send never blocks the caller.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	onClose   func()
}

func newConn(id string, ws *websocket.Conn, queue int, onClose func()) *conn {
	if queue <= 0 {
		queue = 64
	}
	return &conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, queue),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Send implements peers.Sender.
func (c *conn) Send(data []byte) error {
	select {
	case <-c.done:
		return peers.ErrPeerGone
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return peers.ErrPeerGone
	default:
		return ErrSendQueueFull
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WarnCF("relay", "Write failed", map[string]any{
					"peer":  c.id,
					"error": err.Error(),
				})
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop hands every text frame to handle until the connection fails.
func (c *conn) readLoop(ctx context.Context, handle func(context.Context, []byte)) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnCF("relay", "Connection closed unexpectedly", map[string]any{
					"peer":  c.id,
					"error": err.Error(),
				})
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(ctx, data)
	}
}
