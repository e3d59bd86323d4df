package session

import (
	"context"
	"sync"
)

// locks serializes refreshes across every Guard of the process that uses
// the same lock name.
var locks = &lockRegistry{held: map[string]chan struct{}{}}

type lockRegistry struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// acquire blocks until the named lock is held or ctx is done.
func (r *lockRegistry) acquire(ctx context.Context, name string) (release func(), err error) {
	r.mu.Lock()
	ch, ok := r.held[name]
	if !ok {
		ch = make(chan struct{}, 1)
		r.held[name] = ch
	}
	r.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
