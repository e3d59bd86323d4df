// Package sse provides Server-Sent Events support for realtime notifications.
//
// SSE is a read-only transport: a stream's scope is fixed when it connects.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/internal/server/events"
	"github.com/agentstation/livesync/internal/server/metrics"
	"github.com/agentstation/livesync/pkg/rooms"
)

type client struct {
	scope  rooms.Scope
	events chan events.Event
}

// Broadcaster manages Server-Sent Events connections.
type Broadcaster struct {
	clients    map[*client]bool
	newClients chan *client
	closed     chan *client
	events     chan events.Event
	mu         sync.RWMutex
	logger     *zerolog.Logger
	metrics    *metrics.Metrics
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster(logger *zerolog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*client]bool),
		newClients: make(chan *client, 10),
		closed:     make(chan *client, 10),
		events:     make(chan events.Event, 1024),
		logger:     logger,
		metrics:    m,
	}
}

// Run starts the broadcaster's main loop. Should be called in a goroutine.
// The broadcaster will run until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c.events)
			}
			b.clients = make(map[*client]bool)
			b.mu.Unlock()
			b.metrics.SetConnections("sse", 0)
			b.logger.Info().Msg("SSE broadcaster shut down")
			return

		case c := <-b.newClients:
			b.mu.Lock()
			b.clients[c] = true
			n := len(b.clients)
			b.mu.Unlock()
			b.metrics.SetConnections("sse", n)
			b.logger.Info().Int("total_clients", n).Msg("SSE client connected")

		case c := <-b.closed:
			b.mu.Lock()
			if b.clients[c] {
				delete(b.clients, c)
				close(c.events)
			}
			n := len(b.clients)
			b.mu.Unlock()
			b.metrics.SetConnections("sse", n)
			b.logger.Info().Int("total_clients", n).Msg("SSE client disconnected")

		case event := <-b.events:
			b.mu.RLock()
			for c := range b.clients {
				if !event.DeliverTo(c.scope) {
					continue
				}
				select {
				case c.events <- event:
					b.metrics.EventDelivered(event.Channel)
				default:
					b.metrics.EventDropped()
					b.logger.Warn().Msg("SSE client buffer full, event skipped")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for the connected streams.
func (b *Broadcaster) Broadcast(event events.Event) {
	select {
	case b.events <- event:
	default:
		b.metrics.EventDropped()
		b.logger.Warn().Msg("SSE broadcast channel full, event dropped")
	}
}

// ClientCount returns the number of connected SSE clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Serve streams the events scope allows until the request ends.
func (b *Broadcaster) Serve(w http.ResponseWriter, r *http.Request, scope rooms.Scope) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := &client{scope: scope, events: make(chan events.Event, 256)}
	b.newClients <- c
	defer func() {
		b.closed <- c
	}()

	_, _ = fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				return
			}
			b.writeEvent(w, flusher, event)

		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one notification as an SSE message named by its channel.
func (b *Broadcaster) writeEvent(w http.ResponseWriter, flusher http.Flusher, event events.Event) {
	data, err := json.Marshal(event.Notification)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to marshal SSE event data")
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event.Channel)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
