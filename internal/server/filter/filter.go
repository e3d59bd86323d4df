// Package filter provides query parameter parsing and filtering for API endpoints.
package filter

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/livesync/pkg/resources"
)

// IssueFilter contains all possible filter criteria for issues.
type IssueFilter struct {
	// Resource filters
	ProjectName string
	Name        string

	// Content filters
	Author        string
	TitleContains string
	Labels        []string

	// Date filters
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time

	// Pagination
	Limit  int
	Offset int
}

// ParseIssueFilter extracts issue filter parameters from HTTP request.
func ParseIssueFilter(r *http.Request) IssueFilter {
	q := r.URL.Query()

	filter := IssueFilter{
		ProjectName:   q.Get("projectName"),
		Name:          q.Get("name"),
		Author:        q.Get("author"),
		TitleContains: q.Get("title_contains"),
		Limit:         parseIntOrDefault(q.Get("limit"), 0),
		Offset:        parseIntOrDefault(q.Get("offset"), 0),
	}

	if labels := q.Get("label"); labels != "" {
		filter.Labels = strings.Split(labels, ",")
	}

	if after := q.Get("updated_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			filter.UpdatedAfter = &t
		}
	}
	if before := q.Get("updated_before"); before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			filter.UpdatedBefore = &t
		}
	}

	return filter
}

// Apply returns the issues matching the filter, paginated.
func (f IssueFilter) Apply(issues []*resources.Issue) []*resources.Issue {
	results := []*resources.Issue{}
	for _, issue := range issues {
		if f.matches(issue) {
			results = append(results, issue)
		}
	}

	if f.Offset > 0 {
		if f.Offset >= len(results) {
			return []*resources.Issue{}
		}
		results = results[f.Offset:]
	}
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results
}

// matches checks if an issue matches the filter criteria.
func (f IssueFilter) matches(issue *resources.Issue) bool {
	return f.matchesResource(issue) &&
		f.matchesContent(issue) &&
		f.matchesDates(issue)
}

func (f IssueFilter) matchesResource(issue *resources.Issue) bool {
	if f.ProjectName != "" && issue.Metadata.ProjectName != f.ProjectName {
		return false
	}
	if f.Name != "" && issue.Metadata.Name != f.Name {
		return false
	}
	return true
}

func (f IssueFilter) matchesContent(issue *resources.Issue) bool {
	if f.Author != "" && !strings.EqualFold(issue.Data.User.Login, f.Author) {
		return false
	}
	if f.TitleContains != "" && !strings.Contains(strings.ToLower(issue.Data.Title), strings.ToLower(f.TitleContains)) {
		return false
	}
	if len(f.Labels) > 0 && !labelContainsAny(issue.Data.Labels, f.Labels) {
		return false
	}
	return true
}

func (f IssueFilter) matchesDates(issue *resources.Issue) bool {
	updated := issue.Metadata.UpdatedAt
	if f.UpdatedAfter != nil && !updated.After(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && !updated.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}

// labelContainsAny checks if labels contain any of the names.
func labelContainsAny(labels []resources.Label, names []string) bool {
	for _, name := range names {
		for _, l := range labels {
			if strings.EqualFold(l.Name, name) {
				return true
			}
		}
	}
	return false
}

// parseIntOrDefault parses an integer or returns default.
func parseIntOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil && i >= 0 {
		return i
	}
	return def
}
