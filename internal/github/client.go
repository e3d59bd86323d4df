// Package github ingests tickets from a GitHub repository into the ticket
// cache: a paginated REST client, conversion into livesync resources, the
// loaders that reconcile the cache with upstream, the webhook receiver and
// the periodic sync manager.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentstation/livesync/internal/transport"
	"github.com/agentstation/livesync/pkg/errors"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

const perPage = 100

// Config identifies the repository tickets are filed in.
type Config struct {
	APIURL     string
	Org        string
	Repository string
	Token      string
}

// Validate checks that the repository coordinates are set.
func (c Config) Validate() error {
	if c.Org == "" {
		return errors.NewConfigError("github", "org must be set", nil)
	}
	if c.Repository == "" {
		return errors.NewConfigError("github", "repository must be set", nil)
	}
	return nil
}

// Client talks to the GitHub REST API.
type Client struct {
	cfg  Config
	http *transport.Client
}

// NewClient creates a client for cfg. Extra transport options, for example
// a custom http.Client in tests, are passed through.
func NewClient(cfg Config, opts ...transport.Option) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	opts = append([]transport.Option{
		transport.WithToken(transport.StaticToken(cfg.Token)),
		transport.WithUserAgent("livesync"),
		transport.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	}, opts...)
	return &Client{
		cfg:  cfg,
		http: transport.New("github", &transport.TokenAuth{}, opts...),
	}
}

type user struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type label struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Issue is the subset of the GitHub issue representation livesync reads.
type Issue struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	HTMLURL   string    `json:"html_url"`
	Body      string    `json:"body"`
	Comments  int       `json:"comments"`
	User      user      `json:"user"`
	Labels    []label   `json:"labels"`
}

// Comment is the subset of the GitHub issue comment representation
// livesync reads.
type Comment struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	HTMLURL   string    `json:"html_url"`
	Body      string    `json:"body"`
	User      user      `json:"user"`
}

func (c *Client) repoPath(elem ...string) string {
	p := "/repos/" + url.PathEscape(c.cfg.Org) + "/" + url.PathEscape(c.cfg.Repository)
	for _, e := range elem {
		p += "/" + e
	}
	return p
}

// SearchOpenIssues returns every open issue of the repository. When both
// projectName and name are given, only issues titled
// "[projectName/name] ..." are returned.
func (c *Client) SearchOpenIssues(ctx context.Context, projectName, name string) ([]Issue, error) {
	q := fmt.Sprintf("repo:%s/%s is:issue is:open", c.cfg.Org, c.cfg.Repository)
	if projectName != "" && name != "" {
		q += fmt.Sprintf(` "[%s/%s]" in:title`, projectName, name)
	}
	next := transport.URL(c.cfg.APIURL, "/search/issues", url.Values{
		"q":        {q},
		"per_page": {strconv.Itoa(perPage)},
	})

	var issues []Issue
	for next != "" {
		var page struct {
			Items []Issue `json:"items"`
		}
		resp, err := c.http.GetJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		issues = append(issues, page.Items...)
		next = transport.NextLink(resp)
	}
	return issues, nil
}

// Issue fetches a single issue.
func (c *Client) Issue(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	u := transport.URL(c.cfg.APIURL, c.repoPath("issues", strconv.Itoa(number)), nil)
	if _, err := c.http.GetJSON(ctx, u, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Comments returns every comment of issue number.
func (c *Client) Comments(ctx context.Context, number int) ([]Comment, error) {
	if number <= 0 {
		return nil, errors.NewValidationError("number", "invalid issue number")
	}
	next := transport.URL(c.cfg.APIURL, c.repoPath("issues", strconv.Itoa(number), "comments"), url.Values{
		"per_page": {strconv.Itoa(perPage)},
	})

	var comments []Comment
	for next != "" {
		var page []Comment
		resp, err := c.http.GetJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		comments = append(comments, page...)
		next = transport.NextLink(resp)
	}
	return comments, nil
}

// CreateComment posts a comment with body on issue number.
func (c *Client) CreateComment(ctx context.Context, number int, body string) error {
	u := transport.URL(c.cfg.APIURL, c.repoPath("issues", strconv.Itoa(number), "comments"), nil)
	resp, err := c.http.PostJSON(ctx, u, map[string]string{"body": body})
	if err != nil {
		return err
	}
	return c.http.DecodeResponse(resp, nil)
}

// CloseIssue sets the state of issue number to closed.
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	u := transport.URL(c.cfg.APIURL, c.repoPath("issues", strconv.Itoa(number)), nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, jsonBody(map[string]string{"state": "closed"}))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	return c.http.DecodeResponse(resp, nil)
}
