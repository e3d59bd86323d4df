// Package reconcile turns a stream of bare {type, uid} notifications into
// ordered mutations of a local store.
//
// Notifications are coalesced per uid in a pending map. A throttled flush
// snapshots the map, re-fetches every uid that was not deleted in one
// request, and patches the store: all deletes first, then all upserts.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/resources"
)

// DefaultWait is the default throttle window.
const DefaultWait = 500 * time.Millisecond

// Item is one entry of a synchronize response: either an object or a Status.
type Item[T any] struct {
	Object T
	Status *resources.Status
}

// FetchFunc re-fetches the given uids.
type FetchFunc[T any] func(ctx context.Context, uids []string) ([]Item[T], error)

// ListFunc loads the full current list for a resync.
type ListFunc[T any] func(ctx context.Context) ([]T, error)

// Config configures an Engine.
type Config[T any] struct {
	// Resource names the store in logs, e.g. "issues".
	Resource string
	UID      func(T) string
	Fetch    FetchFunc[T]
	List     ListFunc[T]
	Store    Store[T]
	Logger   *zerolog.Logger
}

// Engine reconciles one store.
type Engine[T any] struct {
	resource string
	uid      func(T) string
	fetch    FetchFunc[T]
	list     ListFunc[T]
	store    Store[T]
	logger   *zerolog.Logger

	// flushMu admits one flush at a time, throttled or explicit.
	flushMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]resources.Notification
	visible  bool
	throttle *Throttle
}

// New creates an engine. The engine starts visible and stopped.
func New[T any](cfg Config[T]) *Engine[T] {
	return &Engine[T]{
		resource: cfg.Resource,
		uid:      cfg.UID,
		fetch:    cfg.Fetch,
		list:     cfg.List,
		store:    cfg.Store,
		logger:   logging.OrNop(cfg.Logger),
		pending:  make(map[string]resources.Notification),
		visible:  true,
	}
}

// Start enables flushing with the given throttle window. A zero wait
// flushes on every notification. Restarting waits for a flush of the
// previous window to finish.
func (e *Engine[T]) Start(wait time.Duration) {
	e.mu.Lock()
	old := e.throttle
	e.throttle = nil
	e.mu.Unlock()
	if old != nil {
		old.Cancel()
		old.Wait()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.throttle = NewThrottle(e.flush, wait)
	if len(e.pending) > 0 && e.visible {
		e.throttle.Trigger()
	}
}

// Stop cancels a scheduled flush and clears the pending map. A flush that is
// already running completes.
func (e *Engine[T]) Stop() {
	e.mu.Lock()
	t := e.throttle
	e.throttle = nil
	clear(e.pending)
	e.mu.Unlock()

	if t != nil {
		t.Cancel()
	}
}

// Listener queues a notification and triggers a flush when visible.
func (e *Engine[T]) Listener(n resources.Notification) {
	if !n.Type.Valid() {
		e.logger.Error().
			Str("resource", e.resource).
			Str("type", string(n.Type)).
			Str("uid", n.UID).
			Msg("Invalid event type")
		return
	}

	e.mu.Lock()
	e.pending[n.UID] = n
	t := e.throttle
	visible := e.visible
	e.mu.Unlock()

	if visible && t != nil {
		t.Trigger()
	}
}

// SetVisible pauses or resumes flushing. Becoming visible flushes pending
// notifications immediately.
func (e *Engine[T]) SetVisible(visible bool) {
	e.mu.Lock()
	was := e.visible
	e.visible = visible
	t := e.throttle
	n := len(e.pending)
	e.mu.Unlock()

	if !was && visible && n > 0 && t != nil {
		t.Flush()
	}
}

// Pending returns a copy of the pending map.
func (e *Engine[T]) Pending() map[string]resources.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.pending)
}

// Wait blocks until an in-progress flush returns.
func (e *Engine[T]) Wait() {
	e.mu.Lock()
	t := e.throttle
	e.mu.Unlock()
	if t != nil {
		t.Wait()
	}
}

// Resync replaces the store content with the full upstream list.
func (e *Engine[T]) Resync(ctx context.Context) error {
	if e.list == nil {
		return nil
	}
	items, err := e.list(ctx)
	if err != nil {
		return fmt.Errorf("resync %s: %w", e.resource, err)
	}
	e.store.Replace(items)
	e.logger.Debug().Str("resource", e.resource).Int("count", len(items)).Msg("Resynchronized")
	return nil
}

// Flush runs one flush synchronously, after any flush already in progress.
func (e *Engine[T]) Flush(ctx context.Context) {
	e.flushContext(ctx)
}

func (e *Engine[T]) flush() {
	e.flushContext(context.Background())
}

func (e *Engine[T]) flushContext(ctx context.Context) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = make(map[string]resources.Notification)
	e.mu.Unlock()

	// false: delete, true: re-fetch, T: upsert
	classes := make(map[string]any, len(batch))
	for uid, n := range batch {
		classes[uid] = n.Type != resources.Deleted
	}

	var uids []string
	for _, uid := range slices.Sorted(maps.Keys(classes)) {
		if classes[uid] == true {
			uids = append(uids, uid)
		}
	}

	if len(uids) > 0 {
		items, err := e.fetch(ctx, uids)
		if err != nil {
			e.handleFetchError(batch, err)
			return
		}
		for _, item := range items {
			if item.Status != nil {
				if item.Status.Code == http.StatusNotFound && item.Status.Details.UID != "" {
					classes[item.Status.Details.UID] = false
				} else {
					e.logger.Info().
						Str("resource", e.resource).
						Int("code", item.Status.Code).
						Str("message", item.Status.Message).
						Msg("Synchronize returned status")
				}
				continue
			}
			classes[e.uid(item.Object)] = item.Object
		}
	}

	e.store.Patch(func(op Operator[T]) {
		keys := slices.Sorted(maps.Keys(classes))
		for _, uid := range keys {
			if classes[uid] == false {
				op.Delete(uid)
			}
		}
		for _, uid := range keys {
			if obj, ok := classes[uid].(T); ok {
				op.Set(uid, obj)
			}
		}
	})
}

func (e *Engine[T]) handleFetchError(batch map[string]resources.Notification, err error) {
	if errors.IsRateLimited(err) {
		e.logger.Info().
			Err(err).
			Str("resource", e.resource).
			Int("dropped", len(batch)).
			Msg("Synchronize rate limited, dropping batch")
		return
	}

	e.logger.Error().Err(err).Str("resource", e.resource).Msg("Failed to synchronize")

	e.mu.Lock()
	defer e.mu.Unlock()
	for uid, n := range batch {
		if _, fresher := e.pending[uid]; !fresher {
			e.pending[uid] = n
		}
	}
}

// DecodeItems splits raw synchronize items into objects and Status entries.
func DecodeItems[T any](raw []json.RawMessage) ([]Item[T], error) {
	items := make([]Item[T], 0, len(raw))
	for _, msg := range raw {
		var probe struct {
			Kind resources.Kind `json:"kind"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		if probe.Kind == resources.KindStatus {
			var status resources.Status
			if err := json.Unmarshal(msg, &status); err != nil {
				return nil, fmt.Errorf("decode status: %w", err)
			}
			items = append(items, Item[T]{Status: &status})
			continue
		}
		var obj T
		if err := json.Unmarshal(msg, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		items = append(items, Item[T]{Object: obj})
	}
	return items, nil
}
