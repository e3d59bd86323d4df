// Package events connects the ticket cache to the transports.
//
// Cache change events are reduced to routed notifications and fanned out by
// a Broker to every registered Subscriber (websocket hub, SSE broadcaster).
// Each event carries the resource coordinates transports need to decide
// which connections receive it.
package events

import (
	"time"

	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
)

// Event is a notification together with its routing information.
type Event struct {
	Channel      string                 `json:"channel"`
	Notification resources.Notification `json:"event"`
	// Broadcast events go to every connection regardless of its rooms.
	Broadcast bool      `json:"-"`
	Namespace string    `json:"-"`
	Name      string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliverTo reports whether a connection with scope receives the event.
func (e Event) DeliverTo(scope rooms.Scope) bool {
	return e.Broadcast || scope.Allows(e.Namespace, e.Name)
}
