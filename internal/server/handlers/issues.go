package handlers

import (
	"net/http"
	"strconv"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/internal/server/filter"
	"github.com/agentstation/livesync/internal/server/response"
	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/resources"
)

// HandleListIssues handles GET /api/v1/issues. Both projectName and name
// narrow the list to the open tickets of one resource; the other filter
// parameters are described by filter.ParseIssueFilter.
func (h *Handlers) HandleListIssues(w http.ResponseWriter, r *http.Request) {
	f := filter.ParseIssueFilter(r)

	var issues []*resources.Issue
	if f.ProjectName != "" && f.Name != "" {
		for _, number := range h.Tickets.IssueNumbersForNameAndProjectName(f.Name, f.ProjectName) {
			if issue, ok := h.Tickets.Issue(number); ok {
				issues = append(issues, issue)
			}
		}
	} else {
		issues = h.Tickets.Issues()
	}

	issues = f.Apply(issues)
	response.OK(w, map[string]any{"items": issues, "count": len(issues)})
}

// HandleGetIssue handles GET /api/v1/issues/{number}.
func (h *Handlers) HandleGetIssue(w http.ResponseWriter, r *http.Request) {
	number, ok := h.issueNumber(w, r)
	if !ok {
		return
	}
	issue, found := h.Tickets.Issue(number)
	if !found {
		response.ErrorFromType(w, errors.NewNotFoundError(string(resources.KindIssue), resources.IssueUID(number)))
		return
	}
	response.OK(w, issue)
}

// HandleListComments handles GET /api/v1/issues/{number}/comments. Only
// comments within the caller's scope are listed.
func (h *Handlers) HandleListComments(w http.ResponseWriter, r *http.Request) {
	number, ok := h.issueNumber(w, r)
	if !ok {
		return
	}
	if _, found := h.Tickets.Issue(number); !found {
		response.ErrorFromType(w, errors.NewNotFoundError(string(resources.KindIssue), resources.IssueUID(number)))
		return
	}

	claims, _ := auth.FromContext(r.Context())
	comments := []*resources.Comment{}
	if claims != nil {
		scope := h.claimsScope(r.Context(), claims)
		for _, c := range h.Tickets.CommentsForIssue(number) {
			if h.commentVisible(scope, c) {
				comments = append(comments, c)
			}
		}
	}
	response.OK(w, map[string]any{"items": comments, "count": len(comments)})
}

func (h *Handlers) issueNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		response.BadRequest(w, "Invalid issue number", r.PathValue("number"))
		return 0, false
	}
	return number, true
}
