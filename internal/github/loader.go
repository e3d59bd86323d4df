package github

import (
	"context"
	"slices"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/tickets"
)

// DefaultConcurrency bounds concurrent comment loads.
const DefaultConcurrency = 10

// AutoCloseComment is posted on tickets closed because their resource was
// deleted.
const AutoCloseComment = "_[Auto-closed due to resource deletion]_"

// Upstream is the part of the GitHub API the loader depends on.
type Upstream interface {
	SearchOpenIssues(ctx context.Context, projectName, name string) ([]Issue, error)
	Issue(ctx context.Context, number int) (*Issue, error)
	Comments(ctx context.Context, number int) ([]Comment, error)
	CreateComment(ctx context.Context, number int, body string) error
	CloseIssue(ctx context.Context, number int) error
}

var _ Upstream = (*Client)(nil)

// Loader reconciles the ticket cache with GitHub.
type Loader struct {
	upstream Upstream
	cache    *tickets.Cache
	logger   *zerolog.Logger
}

// NewLoader creates a Loader writing into cache.
func NewLoader(upstream Upstream, cache *tickets.Cache, logger *zerolog.Logger) *Loader {
	return &Loader{upstream: upstream, cache: cache, logger: logging.OrNop(logger)}
}

// OpenIssues fetches the open issues filed against (projectName, name), or
// all open issues when either is empty.
func (l *Loader) OpenIssues(ctx context.Context, projectName, name string) ([]resources.Issue, error) {
	raw, err := l.upstream.SearchOpenIssues(ctx, projectName, name)
	if err != nil {
		return nil, err
	}
	issues := make([]resources.Issue, 0, len(raw))
	for _, in := range raw {
		issues = append(issues, FromIssue(in))
	}
	return issues, nil
}

// LoadOpenIssues stores every open upstream issue in the cache and removes
// the cached issues that are no longer open upstream.
func (l *Loader) LoadOpenIssues(ctx context.Context) ([]resources.Issue, error) {
	issues, err := l.OpenIssues(ctx, "", "")
	if err != nil {
		return nil, err
	}

	open := make(map[int]bool, len(issues))
	for _, issue := range issues {
		open[issue.Metadata.Number] = true
		l.cache.AddOrUpdateIssue(issue)
	}
	for _, cached := range l.cache.Issues() {
		if !open[cached.Metadata.Number] {
			l.cache.RemoveIssue(*cached)
		}
	}

	l.logger.Debug().Int("issues", len(issues)).Msg("Loaded open issues")
	return issues, nil
}

// IssueComments fetches the comments of a cached issue.
func (l *Loader) IssueComments(ctx context.Context, number int) ([]resources.Comment, error) {
	issue, ok := l.cache.Issue(number)
	if !ok {
		return nil, errors.NewNotFoundError(string(resources.KindIssue), resources.IssueUID(number))
	}
	raw, err := l.upstream.Comments(ctx, number)
	if err != nil {
		return nil, err
	}
	comments := make([]resources.Comment, 0, len(raw))
	for _, in := range raw {
		comments = append(comments, FromComment(number, issue.Metadata.Name, issue.Metadata.ProjectName, in))
	}
	return comments, nil
}

// LoadIssueComments stores the comments of issue number in the cache and
// removes cached comments deleted upstream.
func (l *Loader) LoadIssueComments(ctx context.Context, number int) ([]resources.Comment, error) {
	comments, err := l.IssueComments(ctx, number)
	if err != nil {
		return nil, err
	}

	present := make(map[int64]bool, len(comments))
	for _, c := range comments {
		present[c.Metadata.ID] = true
		l.cache.AddOrUpdateComment(number, c)
	}
	for _, cached := range l.cache.CommentsForIssue(number) {
		if !present[cached.Metadata.ID] {
			l.cache.RemoveComment(number, *cached)
		}
	}
	return comments, nil
}

// LoadOpenIssuesAndComments loads the open issues and then the comments of
// each, with at most concurrency comment loads in flight.
func (l *Loader) LoadOpenIssuesAndComments(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	issues, err := l.LoadOpenIssues(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, issue := range issues {
		number := issue.Metadata.Number
		g.Go(func() error {
			_, err := l.LoadIssueComments(ctx, number)
			return err
		})
	}
	return g.Wait()
}

// DeleteTickets finalizes every open ticket filed against (projectName,
// name): tickets already closed upstream are dropped from the cache, the
// others receive AutoCloseComment and are closed.
func (l *Loader) DeleteTickets(ctx context.Context, projectName, name string) error {
	numbers := l.cache.IssueNumbersForNameAndProjectName(name, projectName)
	if len(numbers) == 0 {
		return nil
	}
	slices.Sort(numbers)
	l.logger.Debug().
		Str("project", projectName).
		Str("name", name).
		Ints("numbers", numbers).
		Msg("Deleting tickets of removed resource")

	g, ctx := errgroup.WithContext(ctx)
	for _, number := range numbers {
		g.Go(func() error {
			return l.finalizeIssue(ctx, number)
		})
	}
	return g.Wait()
}

func (l *Loader) finalizeIssue(ctx context.Context, number int) error {
	raw, err := l.upstream.Issue(ctx, number)
	if err != nil {
		return err
	}
	issue := FromIssue(*raw)
	if !issue.IsOpen() {
		l.logger.Debug().Int("number", number).Msg("Ticket already closed, removing from cache")
		l.cache.RemoveIssue(issue)
		return nil
	}
	if err := l.upstream.CreateComment(ctx, number, AutoCloseComment); err != nil {
		return err
	}
	return l.upstream.CloseIssue(ctx, number)
}
