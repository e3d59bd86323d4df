package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentstation/livesync/pkg/reconcile"
	"github.com/agentstation/livesync/pkg/resources"
)

// Fetcher re-fetches uids of resource through c.Synchronize.
func Fetcher[T any](c *Conn, resource string) reconcile.FetchFunc[T] {
	return func(ctx context.Context, uids []string) ([]reconcile.Item[T], error) {
		raw, err := c.Synchronize(ctx, resource, uids)
		if err != nil {
			return nil, err
		}
		return reconcile.DecodeItems[T](raw)
	}
}

// Lister loads every object of resource through c.List.
func Lister[T any](c *Conn, resource string) reconcile.ListFunc[T] {
	return func(ctx context.Context) ([]T, error) {
		raw, err := c.List(ctx, resource)
		if err != nil {
			return nil, err
		}
		items := make([]T, 0, len(raw))
		for _, msg := range raw {
			var obj T
			if err := json.Unmarshal(msg, &obj); err != nil {
				return nil, fmt.Errorf("decode %s: %w", resource, err)
			}
			items = append(items, obj)
		}
		return items, nil
	}
}

// Attach wires e to the notifications of channel and to the resync hooks
// of c. The returned function detaches the listener.
func Attach[T any](c *Conn, channel string, e *reconcile.Engine[T]) (detach func()) {
	c.OnResync(e.Resync)
	return c.On(channel, func(n resources.Notification) { e.Listener(n) })
}
