package realtime

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/metrics"
	"github.com/yuzhe-s/chat-memo/internal/presence"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// DefaultPingInterval is the keep-alive period; the read deadline is 10/9 of it.
	DefaultPingInterval = 54 * time.Second

	// DefaultSendBuffer is the per-connection outbound queue length.
	DefaultSendBuffer = 256
)

// Client is one websocket connection. Outbound events are queued on send and
// written by writePump; a full queue closes the connection.
type Client struct {
	id       string
	identity presence.Identity
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

// NewClient wraps conn. conn may be nil for connections driven without a socket.
func NewClient(identity presence.Identity, conn *websocket.Conn, sendBuffer int, logger *zap.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		logger: logger.With(
			zap.String("connection_id", id),
			zap.String("user_id", string(identity)),
		),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the bound identity, empty when the connection is unbound.
func (c *Client) Identity() presence.Identity {
	return c.identity
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Outbound exposes the queued frames for connections without a socket.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Close stops the connection. Safe to call more than once and from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// enqueue never blocks; a full queue closes the client.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		metrics.BroadcastDropped.Inc()
		c.logger.Warn("outbound queue full, closing connection")
		c.Close()
		return false
	}
}

// readPump delivers inbound text frames to handle until the peer goes away.
func (c *Client) readPump(pingInterval time.Duration, handle func([]byte)) {
	defer c.Close()

	pongWait := pingInterval * 10 / 9
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("binary frame ignored")
			continue
		}
		handle(bytes.TrimSpace(message))
	}
}

// writePump drains the queue to the socket and keeps the connection alive with pings.
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
