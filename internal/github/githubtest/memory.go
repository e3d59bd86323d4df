// Package githubtest provides an in-memory github.Upstream for tests.
package githubtest

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/agentstation/livesync/internal/github"
	"github.com/agentstation/livesync/pkg/errors"
)

// Memory is an in-memory github.Upstream. The zero value is empty and
// ready to use.
type Memory struct {
	mu       sync.Mutex
	issues   []github.Issue
	comments map[int][]github.Comment
	closed   []int
	created  map[int][]string
}

var _ github.Upstream = (*Memory)(nil)

// AddIssue stores issue together with its comments.
func (m *Memory) AddIssue(issue github.Issue, comments ...github.Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.comments == nil {
		m.comments = map[int][]github.Comment{}
	}
	m.issues = append(m.issues, issue)
	m.comments[issue.Number] = append(m.comments[issue.Number], comments...)
}

// Closed returns the numbers of the issues closed through CloseIssue.
func (m *Memory) Closed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.closed)
}

// SearchOpenIssues returns every stored open issue.
func (m *Memory) SearchOpenIssues(context.Context, string, string) ([]github.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []github.Issue
	for _, issue := range m.issues {
		if issue.State == "open" {
			open = append(open, issue)
		}
	}
	return open, nil
}

// Issue returns one issue or a 404 API error.
func (m *Memory) Issue(_ context.Context, number int) (*github.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issues {
		if m.issues[i].Number == number {
			issue := m.issues[i]
			return &issue, nil
		}
	}
	return nil, errors.NewAPIError("github", http.StatusNotFound, "Not Found")
}

// Comments returns the comments of an issue.
func (m *Memory) Comments(_ context.Context, number int) ([]github.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.comments[number]), nil
}

// CreateComment records body.
func (m *Memory) CreateComment(_ context.Context, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created == nil {
		m.created = map[int][]string{}
	}
	m.created[number] = append(m.created[number], body)
	return nil
}

// CloseIssue marks an issue closed.
func (m *Memory) CloseIssue(_ context.Context, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issues {
		if m.issues[i].Number == number {
			m.issues[i].State = "closed"
		}
	}
	m.closed = append(m.closed, number)
	return nil
}
