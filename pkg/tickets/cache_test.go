package tickets

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/pkg/resources"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func issue(number int, state, project, name string, updated time.Duration) resources.Issue {
	return resources.Issue{
		Kind: resources.KindIssue,
		Metadata: resources.Metadata{
			ID:          int64(number) * 100,
			Number:      number,
			State:       state,
			ProjectName: project,
			Name:        name,
			UpdatedAt:   base.Add(updated),
		},
	}
}

func comment(number int, id int64, updated time.Duration) resources.Comment {
	return resources.Comment{
		Kind: resources.KindComment,
		Metadata: resources.Metadata{
			ID:        id,
			Number:    number,
			UpdatedAt: base.Add(updated),
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []resources.ChangeEvent
}

func (r *recorder) record(ev resources.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) summary() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, string(ev.Kind)+":"+string(ev.Type)+":"+ev.Object.UID())
	}
	return out
}

func newRecordedCache(t *testing.T) (*Cache, *recorder) {
	t.Helper()
	c := New()
	rec := &recorder{}
	c.On(resources.KindIssue, rec.record)
	c.On(resources.KindComment, rec.record)
	return c, rec
}

func TestAddOrUpdateIssue(t *testing.T) {
	c, rec := newRecordedCache(t)

	c.AddOrUpdateIssue(issue(1, "open", "foo", "bar", 0))
	c.AddOrUpdateIssue(issue(1, "open", "foo", "bar", time.Minute))

	got, ok := c.Issue(1)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), got.Metadata.UpdatedAt)
	assert.Equal(t, []string{"issue:ADDED:1", "issue:MODIFIED:1"}, rec.summary())
}

func TestMonotonicityIsOrderIndependent(t *testing.T) {
	older := issue(1, "open", "foo", "bar", 0)
	newer := issue(1, "open", "foo", "bar", time.Minute)

	for name, order := range map[string][]resources.Issue{
		"older first": {older, newer},
		"newer first": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			c, rec := newRecordedCache(t)
			for _, i := range order {
				c.AddOrUpdateIssue(i)
			}
			got, _ := c.Issue(1)
			assert.Equal(t, newer.Metadata.UpdatedAt, got.Metadata.UpdatedAt)
			if name == "older first" {
				assert.Equal(t, []string{"issue:ADDED:1", "issue:MODIFIED:1"}, rec.summary())
			} else {
				assert.Equal(t, []string{"issue:ADDED:1"}, rec.summary())
			}
		})
	}
}

func TestStaleUpdateIsNoop(t *testing.T) {
	c, rec := newRecordedCache(t)

	current := issue(1, "open", "foo", "bar", time.Minute)
	c.AddOrUpdateIssue(current)

	same := current
	same.Data.Body = "changed"
	c.AddOrUpdateIssue(same)
	c.AddOrUpdateIssue(issue(1, "closed", "foo", "bar", 0))

	got, _ := c.Issue(1)
	assert.Empty(t, got.Data.Body)
	assert.Equal(t, "open", got.Metadata.State)
	assert.Equal(t, []string{"issue:ADDED:1"}, rec.summary())

	c.AddOrUpdateComment(1, comment(1, 10, time.Minute))
	c.AddOrUpdateComment(1, comment(1, 10, time.Minute))
	c.AddOrUpdateComment(1, comment(1, 10, 0))
	assert.Equal(t, []string{"issue:ADDED:1", "comment:ADDED:1/10"}, rec.summary())
}

func TestRemoveIssueCascades(t *testing.T) {
	c, rec := newRecordedCache(t)

	c.AddOrUpdateIssue(issue(1, "open", "foo", "bar", 0))
	c.AddOrUpdateComment(1, comment(1, 30, 0))
	c.AddOrUpdateComment(1, comment(1, 10, 0))
	c.AddOrUpdateComment(1, comment(1, 20, 0))
	c.AddOrUpdateComment(2, comment(2, 40, 0))

	rec.events = nil
	c.RemoveIssue(issue(1, "open", "foo", "bar", 0))

	assert.Equal(t, []string{
		"issue:DELETED:1",
		"comment:DELETED:1/30",
		"comment:DELETED:1/10",
		"comment:DELETED:1/20",
	}, rec.summary())

	_, ok := c.Issue(1)
	assert.False(t, ok)
	assert.Empty(t, c.CommentsForIssue(1))
	assert.Len(t, c.CommentsForIssue(2), 1)
	assert.Empty(t, c.IssueNumbersForNameAndProjectName("bar", "foo"))
}

func TestRemoveComment(t *testing.T) {
	c, rec := newRecordedCache(t)

	c.AddOrUpdateComment(1, comment(1, 10, 0))
	c.AddOrUpdateComment(1, comment(1, 11, 0))
	c.RemoveComment(1, comment(1, 10, 0))

	comments := c.CommentsForIssue(1)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(11), comments[0].Metadata.ID)
	assert.Equal(t, []string{"comment:ADDED:1/10", "comment:ADDED:1/11", "comment:DELETED:1/10"}, rec.summary())

	_, ok := c.Comment(1, 10)
	assert.False(t, ok)
}

func TestNameIndexOnlyHoldsOpenIssues(t *testing.T) {
	c := New()

	c.AddOrUpdateIssues([]resources.Issue{
		issue(3, "open", "foo", "bar", 0),
		issue(1, "closed", "foo", "bar", 0),
		issue(2, "open", "foo", "bar", 0),
		issue(4, "open", "foo", "baz", 0),
		issue(5, "open", "other", "bar", 0),
	})
	assert.Equal(t, []int{3, 2}, c.IssueNumbersForNameAndProjectName("bar", "foo"))

	c.AddOrUpdateIssue(issue(3, "closed", "foo", "bar", time.Minute))
	assert.Equal(t, []int{2}, c.IssueNumbersForNameAndProjectName("bar", "foo"))

	// a reopened issue takes back its first-insertion position
	c.AddOrUpdateIssue(issue(1, "open", "foo", "bar", time.Minute))
	assert.Equal(t, []int{1, 2}, c.IssueNumbersForNameAndProjectName("bar", "foo"))

	assert.Empty(t, c.IssueNumbersForNameAndProjectName("missing", "foo"))
}

func TestNameIndexKeepsInsertionOrderOnUpdate(t *testing.T) {
	c := New()

	c.AddOrUpdateIssue(issue(1, "open", "p", "n", 0))
	c.AddOrUpdateIssue(issue(2, "open", "p", "n", 0))
	c.AddOrUpdateIssue(issue(1, "open", "p", "n", time.Minute))
	assert.Equal(t, []int{1, 2}, c.IssueNumbersForNameAndProjectName("n", "p"))

	// moving to another name and back keeps the rank as well
	c.AddOrUpdateIssue(issue(1, "open", "p", "other", 2*time.Minute))
	assert.Equal(t, []int{2}, c.IssueNumbersForNameAndProjectName("n", "p"))
	c.AddOrUpdateIssue(issue(1, "open", "p", "n", 3*time.Minute))
	assert.Equal(t, []int{1, 2}, c.IssueNumbersForNameAndProjectName("n", "p"))

	// a removed issue starts over at the end
	c.RemoveIssue(issue(1, "open", "p", "n", 0))
	c.AddOrUpdateIssue(issue(1, "open", "p", "n", 4*time.Minute))
	assert.Equal(t, []int{2, 1}, c.IssueNumbersForNameAndProjectName("n", "p"))
}

func TestBulkLoadDoesNotEmit(t *testing.T) {
	c, rec := newRecordedCache(t)

	c.AddOrUpdateIssues([]resources.Issue{issue(1, "open", "a", "b", 0), issue(2, "open", "a", "b", 0)})
	assert.Empty(t, rec.summary())
	assert.Equal(t, []int{1, 2}, c.IssueNumbers())
	assert.Len(t, c.Issues(), 2)
	assert.Equal(t, 2, c.Len())
}

func TestReset(t *testing.T) {
	c, rec := newRecordedCache(t)

	c.AddOrUpdateIssue(issue(1, "open", "a", "b", 0))
	c.AddOrUpdateComment(1, comment(1, 1, 0))
	c.Reset()

	assert.Zero(t, c.Len())
	assert.Empty(t, c.CommentsForIssue(1))
	assert.Empty(t, c.IssueNumbersForNameAndProjectName("b", "a"))

	c.AddOrUpdateIssue(issue(1, "open", "a", "b", 0))
	assert.Equal(t, []string{"issue:ADDED:1", "comment:ADDED:1/1", "issue:ADDED:1"}, rec.summary())
}

func TestUnsubscribe(t *testing.T) {
	c := New()
	var n int
	off := c.On(resources.KindIssue, func(resources.ChangeEvent) { n++ })

	c.AddOrUpdateIssue(issue(1, "open", "a", "b", 0))
	off()
	c.AddOrUpdateIssue(issue(2, "open", "a", "b", 0))
	assert.Equal(t, 1, n)
}

func TestConcurrentMutationsKeepCascadeOrder(t *testing.T) {
	c, rec := newRecordedCache(t)
	for n := 1; n <= 20; n++ {
		c.AddOrUpdateIssue(issue(n, "open", "p", "n", 0))
		c.AddOrUpdateComment(n, comment(n, int64(n*10), 0))
		c.AddOrUpdateComment(n, comment(n, int64(n*10+1), 0))
	}
	rec.events = nil

	var wg sync.WaitGroup
	for n := 1; n <= 20; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.RemoveIssue(issue(n, "open", "p", "n", 0))
		}(n)
	}
	wg.Wait()

	events := rec.summary()
	require.Len(t, events, 60)
	for i := 0; i < len(events); i += 3 {
		assert.Contains(t, events[i], "issue:DELETED:")
		assert.Contains(t, events[i+1], "comment:DELETED:")
		assert.Contains(t, events[i+2], "comment:DELETED:")
	}
}
