package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/protocol"
	"github.com/agentstation/livesync/pkg/rooms"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

// RequestHandler answers client requests.
type RequestHandler interface {
	HandleRequest(ctx context.Context, c *Client, req protocol.Request) protocol.Ack
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, c *Client, req protocol.Request) protocol.Ack

// HandleRequest implements RequestHandler.
func (f RequestHandlerFunc) HandleRequest(ctx context.Context, c *Client, req protocol.Request) protocol.Ack {
	return f(ctx, c, req)
}

// ClientOptions configures per-connection limits.
type ClientOptions struct {
	// SyncRate and SyncBurst bound synchronize requests per connection.
	SyncRate  rate.Limit
	SyncBurst int
}

// Client represents a WebSocket client connection.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	claims  *auth.Claims
	handler RequestHandler
	limiter *rate.Limiter

	mu    sync.RWMutex
	rooms []string
	scope rooms.Scope
	timer *time.Timer

	sendMu     sync.Mutex
	sendClosed bool

	closeOnce sync.Once
}

// NewClient creates a new WebSocket client.
func NewClient(id string, hub *Hub, conn *websocket.Conn, claims *auth.Claims, handler RequestHandler, opts ClientOptions) *Client {
	limit := opts.SyncRate
	if limit == 0 {
		limit = rate.Inf
	}
	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		claims:  claims,
		handler: handler,
		limiter: rate.NewLimiter(limit, max(opts.SyncBurst, 1)),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Claims returns the authenticated user's claims.
func (c *Client) Claims() *auth.Claims {
	return c.claims
}

// UserID returns the authenticated user id, if any.
func (c *Client) UserID() string {
	if c.claims == nil {
		return ""
	}
	return c.claims.ID()
}

// Join adds rooms to the connection.
func (c *Client) Join(rs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rs {
		if !slices.Contains(c.rooms, r) {
			c.rooms = append(c.rooms, r)
		}
	}
	c.scope = rooms.NewScope(c.rooms)
}

// LeaveAll removes every scoped room.
func (c *Client) LeaveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = slices.DeleteFunc(c.rooms, rooms.IsRoom)
	c.scope = rooms.NewScope(c.rooms)
}

// Rooms returns the joined rooms.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.rooms)
}

// Scope returns the parsed delivery scope.
func (c *Client) Scope() rooms.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}

// AllowSynchronize consumes one synchronize token.
func (c *Client) AllowSynchronize() bool {
	return c.limiter.Allow()
}

// Send queues a frame without blocking.
func (c *Client) Send(frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		return errors.NewStatusError(http.StatusServiceUnavailable, "send buffer full or closed")
	}
	return nil
}

func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// ExpireAt disconnects the client at t.
func (c *Client) ExpireAt(t time.Time) {
	d := time.Until(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() {
		c.hub.logger.Debug().Str("client_id", c.id).Msg("Session expired, disconnecting client")
		c.Disconnect(protocol.ServerDisconnect)
	})
}

func (c *Client) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Disconnect closes the connection with a close frame carrying reason.
func (c *Client) Disconnect(reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// ReadPump reads requests until the connection fails.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.Send(protocol.Frame{Op: protocol.OpAck, Ack: protocol.Fail("", errors.NewValidationError("frame", err.Error()))})
			continue
		}

		ack := c.handler.HandleRequest(ctx, c, req)
		ack.ID = req.ID
		c.hub.metrics.Request(string(req.Action), ack.StatusCode)
		if err := c.Send(protocol.Frame{Op: protocol.OpAck, Ack: ack}); err != nil {
			c.hub.logger.Warn().Err(err).Str("client_id", c.id).Msg("Failed to queue ack")
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
