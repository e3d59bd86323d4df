// Package tickets holds the in-memory issue and comment cache.
//
// Updates are monotonic in Metadata.UpdatedAt: an update that is not strictly
// newer than the stored entity is ignored and emits nothing. Removing an issue
// cascades to its comments; the issue DELETED event is always published before
// the comment DELETED events.
//
// Mutations are serialized and each mutation's events are delivered before the
// next mutation's events, so subscribers observe events in call order.
// Handlers must not call back into the cache's mutators synchronously.
package tickets

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/pkg/emitter"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/resources"
)

type nameKey struct {
	projectName string
	name        string
}

type commentList struct {
	order []int64
	byID  map[int64]*resources.Comment
}

// Cache stores issues by number and comments by issue number.
type Cache struct {
	mu         sync.RWMutex
	dispatchMu sync.Mutex

	issues map[int]*resources.Issue
	order  []int
	// seq is the first-insertion rank of each stored issue; the name index
	// is kept sorted by it.
	seq     map[int]uint64
	nextSeq uint64
	names   map[nameKey][]int
	comments map[int]*commentList

	events *emitter.Emitter[resources.ChangeEvent]
	logger *zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for debug output.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		events: emitter.New[resources.ChangeEvent](),
		logger: logging.NewNopLogger(),
	}
	c.reset()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) reset() {
	c.issues = make(map[int]*resources.Issue)
	c.order = nil
	c.seq = make(map[int]uint64)
	c.names = make(map[nameKey][]int)
	c.comments = make(map[int]*commentList)
}

// On registers handler for events of kind. It returns the unsubscribe func.
func (c *Cache) On(kind resources.Kind, handler func(resources.ChangeEvent)) func() {
	return c.events.Subscribe(string(kind), handler)
}

// mutate runs fn under the write lock and publishes the events it returns.
// dispatchMu is acquired before the write lock is released so the next
// mutation cannot publish ahead of this one.
func (c *Cache) mutate(fn func() []resources.ChangeEvent) {
	c.mu.Lock()
	events := fn()
	if len(events) == 0 {
		c.mu.Unlock()
		return
	}
	c.dispatchMu.Lock()
	c.mu.Unlock()
	defer c.dispatchMu.Unlock()

	for _, ev := range events {
		c.events.Publish(string(ev.Kind), ev)
	}
}

// AddOrUpdateIssues stores issues unconditionally. It is meant for the initial
// load and does not emit events.
func (c *Cache) AddOrUpdateIssues(issues []resources.Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range issues {
		issue := issues[i]
		c.put(&issue)
	}
}

// AddOrUpdateIssue inserts issue, or replaces the stored issue when issue is
// strictly newer.
func (c *Cache) AddOrUpdateIssue(issue resources.Issue) {
	c.mutate(func() []resources.ChangeEvent {
		stored, ok := c.issues[issue.Metadata.Number]
		if ok && !issue.Metadata.UpdatedAt.After(stored.Metadata.UpdatedAt) {
			c.logger.Debug().
				Int("number", issue.Metadata.Number).
				Time("updated_at", issue.Metadata.UpdatedAt).
				Msg("Ignoring stale issue update")
			return nil
		}

		evType := resources.Added
		if ok {
			evType = resources.Modified
		}
		obj := issue
		c.put(&obj)
		return []resources.ChangeEvent{{Kind: resources.KindIssue, Type: evType, Object: &obj}}
	})
}

// put stores issue and keeps the name index in sync. An issue keeps its
// index slot across updates. Callers hold mu.
func (c *Cache) put(issue *resources.Issue) {
	number := issue.Metadata.Number
	key := nameKey{issue.Metadata.ProjectName, issue.Metadata.Name}
	prev, ok := c.issues[number]
	c.issues[number] = issue
	if !ok {
		c.order = append(c.order, number)
		c.nextSeq++
		c.seq[number] = c.nextSeq
	} else if prev.IsOpen() && issue.IsOpen() &&
		key == (nameKey{prev.Metadata.ProjectName, prev.Metadata.Name}) {
		return
	} else {
		c.unindex(prev)
	}
	if issue.IsOpen() {
		c.index(key, number)
	}
}

func (c *Cache) index(key nameKey, number int) {
	numbers := c.names[key]
	i, _ := slices.BinarySearchFunc(numbers, c.seq[number], func(n int, seq uint64) int {
		switch s := c.seq[n]; {
		case s < seq:
			return -1
		case s > seq:
			return 1
		}
		return 0
	})
	c.names[key] = slices.Insert(numbers, i, number)
}

func (c *Cache) unindex(issue *resources.Issue) {
	key := nameKey{issue.Metadata.ProjectName, issue.Metadata.Name}
	numbers := slices.DeleteFunc(c.names[key], func(n int) bool { return n == issue.Metadata.Number })
	if len(numbers) == 0 {
		delete(c.names, key)
		return
	}
	c.names[key] = numbers
}

// RemoveIssue deletes the issue and all its comments.
func (c *Cache) RemoveIssue(issue resources.Issue) {
	c.mutate(func() []resources.ChangeEvent {
		number := issue.Metadata.Number
		stored, ok := c.issues[number]
		if !ok {
			stored = &issue
		} else {
			c.unindex(stored)
			delete(c.issues, number)
			delete(c.seq, number)
			c.order = slices.DeleteFunc(c.order, func(n int) bool { return n == number })
		}

		events := []resources.ChangeEvent{{Kind: resources.KindIssue, Type: resources.Deleted, Object: stored}}
		if list, ok := c.comments[number]; ok {
			for _, id := range list.order {
				events = append(events, resources.ChangeEvent{
					Kind:   resources.KindComment,
					Type:   resources.Deleted,
					Object: list.byID[id],
				})
			}
			delete(c.comments, number)
		}
		return events
	})
}

// AddOrUpdateComment inserts comment under issueNumber, or replaces the stored
// comment when comment is strictly newer.
func (c *Cache) AddOrUpdateComment(issueNumber int, comment resources.Comment) {
	c.mutate(func() []resources.ChangeEvent {
		list, ok := c.comments[issueNumber]
		if !ok {
			list = &commentList{byID: make(map[int64]*resources.Comment)}
			c.comments[issueNumber] = list
		}

		id := comment.Metadata.ID
		stored, exists := list.byID[id]
		if exists && !comment.Metadata.UpdatedAt.After(stored.Metadata.UpdatedAt) {
			c.logger.Debug().
				Int("number", issueNumber).
				Int64("id", id).
				Msg("Ignoring stale comment update")
			return nil
		}

		evType := resources.Added
		if exists {
			evType = resources.Modified
		} else {
			list.order = append(list.order, id)
		}
		obj := comment
		obj.Metadata.Number = issueNumber
		list.byID[id] = &obj
		return []resources.ChangeEvent{{Kind: resources.KindComment, Type: evType, Object: &obj}}
	})
}

// RemoveComment deletes the comment identified by (issueNumber, comment id).
func (c *Cache) RemoveComment(issueNumber int, comment resources.Comment) {
	c.mutate(func() []resources.ChangeEvent {
		id := comment.Metadata.ID
		var obj *resources.Comment
		if list, ok := c.comments[issueNumber]; ok {
			if stored, ok := list.byID[id]; ok {
				obj = stored
				delete(list.byID, id)
				list.order = slices.DeleteFunc(list.order, func(v int64) bool { return v == id })
				if len(list.order) == 0 {
					delete(c.comments, issueNumber)
				}
			}
		}
		if obj == nil {
			cp := comment
			cp.Metadata.Number = issueNumber
			obj = &cp
		}
		return []resources.ChangeEvent{{Kind: resources.KindComment, Type: resources.Deleted, Object: obj}}
	})
}

// Issues returns all issues in insertion order.
func (c *Cache) Issues() []*resources.Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*resources.Issue, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.issues[n])
	}
	return out
}

// Issue returns the issue with the given number.
func (c *Cache) Issue(number int) (*resources.Issue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	issue, ok := c.issues[number]
	return issue, ok
}

// IssueNumbers returns the numbers of all cached issues in insertion order.
func (c *Cache) IssueNumbers() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// IssueNumbersForNameAndProjectName returns the open issues filed against
// the resource name in project projectName, in insertion order.
func (c *Cache) IssueNumbersForNameAndProjectName(name, projectName string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.names[nameKey{projectName, name}])
}

// CommentsForIssue returns the comments of issueNumber in insertion order.
func (c *Cache) CommentsForIssue(issueNumber int) []*resources.Comment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list, ok := c.comments[issueNumber]
	if !ok {
		return []*resources.Comment{}
	}
	out := make([]*resources.Comment, 0, len(list.order))
	for _, id := range list.order {
		out = append(out, list.byID[id])
	}
	return out
}

// Comment returns a comment by issue number and id.
func (c *Cache) Comment(issueNumber int, id int64) (*resources.Comment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list, ok := c.comments[issueNumber]
	if !ok {
		return nil, false
	}
	comment, ok := list.byID[id]
	return comment, ok
}

// Len returns the number of cached issues.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.issues)
}

// Reset drops all state without emitting events. Subscriptions are kept.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}
