package events

import (
	"time"

	"github.com/agentstation/livesync/pkg/resources"
)

// Source is the subset of the ticket cache the bridge listens to.
type Source interface {
	On(kind resources.Kind, handler func(resources.ChangeEvent)) func()
}

// NamespaceFunc maps a project name to its namespace.
type NamespaceFunc func(projectName string) string

// Bridge publishes the cache's change events on b. Issue events are
// broadcast to every connection. Comment events are routed to the rooms of
// the resource the comment's issue is filed against.
//
// It returns a function that detaches the bridge.
func Bridge(src Source, b *Broker, namespace NamespaceFunc) func() {
	offIssues := src.On(resources.KindIssue, func(ev resources.ChangeEvent) {
		b.Publish(Event{
			Channel:      "issues",
			Notification: ev.Notification(),
			Broadcast:    true,
			Timestamp:    time.Now(),
		})
	})
	offComments := src.On(resources.KindComment, func(ev resources.ChangeEvent) {
		e := Event{
			Channel:      "comments",
			Notification: ev.Notification(),
			Timestamp:    time.Now(),
		}
		if c, ok := ev.Object.(*resources.Comment); ok {
			e.Namespace = namespace(c.Metadata.ProjectName)
			e.Name = c.Metadata.Name
		}
		b.Publish(e)
	})
	return func() {
		offIssues()
		offComments()
	}
}
