// Package websocket provides the realtime socket transport.
//
// Each Client joins rooms that scope which notifications it receives.
// Requests (subscribe, unsubscribe, synchronize, list) arrive as JSON frames
// and are acknowledged with the request id.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/internal/server/events"
	"github.com/agentstation/livesync/internal/server/metrics"
	"github.com/agentstation/livesync/pkg/protocol"
)

// Hub maintains active WebSocket connections and delivers events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan events.Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zerolog.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan events.Event, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run starts the hub's main loop. Should be called in a goroutine.
// The hub will run until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.stopTimer()
				client.Disconnect(protocol.ServerDisconnect)
				client.closeSend()
			}
			h.mu.Unlock()
			h.metrics.SetConnections("websocket", 0)
			h.logger.Info().Msg("WebSocket hub shut down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetConnections("websocket", n)
			h.logger.Info().
				Str("client_id", client.id).
				Str("user", client.UserID()).
				Int("total_clients", n).
				Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closeSend()
	}
	n := len(h.clients)
	h.mu.Unlock()

	client.stopTimer()
	if ok {
		h.metrics.SetConnections("websocket", n)
		h.logger.Info().
			Str("client_id", client.id).
			Int("total_clients", n).
			Msg("WebSocket client disconnected")
	}
}

func (h *Hub) deliver(event events.Event) {
	data, err := json.Marshal(protocol.Frame{
		Op:      protocol.OpEvent,
		Channel: event.Channel,
		Event:   &event.Notification,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal event frame")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !event.DeliverTo(client.Scope()) {
			continue
		}
		if client.enqueue(data) {
			h.metrics.EventDelivered(event.Channel)
			continue
		}
		// Client buffer full, disconnect
		h.metrics.EventDropped()
		h.logger.Warn().Str("client_id", client.id).Msg("Client send buffer full, disconnecting")
		delete(h.clients, client)
		client.closeSend()
		client.stopTimer()
	}
}

// Register adds client to the hub. It returns false when the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Broadcast queues an event for delivery.
func (h *Hub) Broadcast(event events.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.metrics.EventDropped()
		h.logger.Warn().Msg("Broadcast channel full, event dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
