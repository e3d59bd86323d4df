package reconcile

import (
	"slices"
	"sync"
)

// Operator applies one flush's mutations to a store.
type Operator[T any] interface {
	Delete(uid string)
	Set(uid string, item T)
}

// Store is the local state a reconciliation engine patches.
type Store[T any] interface {
	// Patch calls fn with an Operator while holding the store's write lock.
	Patch(fn func(Operator[T]))
	// Replace swaps the whole content, used by a full resync.
	Replace(items []T)
}

// ListStore is an ordered list of items addressed by uid.
type ListStore[T any] struct {
	mu       sync.RWMutex
	uid      func(T) string
	items    []T
	onChange func([]T)
}

// NewListStore creates an empty store. uid extracts an item's identifier.
func NewListStore[T any](uid func(T) string) *ListStore[T] {
	return &ListStore[T]{uid: uid}
}

// OnChange registers fn to receive a snapshot after every mutation.
func (s *ListStore[T]) OnChange(fn func([]T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Items returns a copy of the current list.
func (s *ListStore[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Get returns the item with uid.
func (s *ListStore[T]) Get(uid string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(uid); i >= 0 {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// Len returns the number of items.
func (s *ListStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Patch implements Store.
func (s *ListStore[T]) Patch(fn func(Operator[T])) {
	s.mu.Lock()
	fn(listOperator[T]{s})
	snapshot, notify := s.snapshot()
	s.mu.Unlock()
	if notify != nil {
		notify(snapshot)
	}
}

// Replace implements Store.
func (s *ListStore[T]) Replace(items []T) {
	s.mu.Lock()
	s.items = slices.Clone(items)
	snapshot, notify := s.snapshot()
	s.mu.Unlock()
	if notify != nil {
		notify(snapshot)
	}
}

func (s *ListStore[T]) snapshot() ([]T, func([]T)) {
	if s.onChange == nil {
		return nil, nil
	}
	return slices.Clone(s.items), s.onChange
}

func (s *ListStore[T]) index(uid string) int {
	return slices.IndexFunc(s.items, func(item T) bool { return s.uid(item) == uid })
}

type listOperator[T any] struct {
	s *ListStore[T]
}

func (o listOperator[T]) Delete(uid string) {
	if i := o.s.index(uid); i >= 0 {
		o.s.items = slices.Delete(o.s.items, i, i+1)
	}
}

func (o listOperator[T]) Set(uid string, item T) {
	if i := o.s.index(uid); i >= 0 {
		o.s.items[i] = item
		return
	}
	o.s.items = append(o.s.items, item)
}
