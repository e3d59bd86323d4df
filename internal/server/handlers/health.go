package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/livesync/internal/server/response"
)

// HandleHealth handles GET /health (liveness probe).
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "livesync",
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// HandleReady handles GET /api/v1/ready. It fails until the first ticket
// sync succeeded.
func (h *Handlers) HandleReady(w http.ResponseWriter, _ *http.Request) {
	if !h.Ready() {
		response.ServiceUnavailable(w, "Tickets not synchronized yet")
		return
	}

	data := map[string]any{
		"status":  "ready",
		"tickets": h.Tickets.Len(),
	}
	if h.Hub != nil {
		data["websocket_clients"] = h.Hub.ClientCount()
	}
	if h.SSEBroadcaster != nil {
		data["sse_clients"] = h.SSEBroadcaster.ClientCount()
	}
	response.OK(w, data)
}
