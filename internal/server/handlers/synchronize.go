package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/internal/server/response"
	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
)

// Synchronize returns the current state of every uid of resource, in
// order. Entities that no longer exist, or comments outside scope, are
// replaced by a 404 Status.
func (h *Handlers) Synchronize(scope rooms.Scope, resource string, uids []string) ([]json.RawMessage, error) {
	kind, ok := resources.ParseKind(resource)
	if !ok {
		return nil, errors.NewValidationError("resource", "unknown resource "+resource)
	}

	items := make([]json.RawMessage, 0, len(uids))
	for _, uid := range uids {
		var obj any
		switch kind {
		case resources.KindIssue:
			if number, err := resources.ParseIssueUID(uid); err == nil {
				if issue, ok := h.Tickets.Issue(number); ok {
					obj = issue
				}
			}
		case resources.KindComment:
			if number, id, err := resources.ParseCommentUID(uid); err == nil {
				if c, ok := h.Tickets.Comment(number, id); ok && h.commentVisible(scope, c) {
					obj = c
				}
			}
		}
		if obj == nil {
			obj = resources.NotFoundStatus(kind, uid)
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		items = append(items, data)
	}
	return items, nil
}

// List returns every entity of resource visible within scope.
func (h *Handlers) List(scope rooms.Scope, resource string) ([]json.RawMessage, error) {
	kind, ok := resources.ParseKind(resource)
	if !ok {
		return nil, errors.NewValidationError("resource", "unknown resource "+resource)
	}

	var objs []any
	for _, issue := range h.Tickets.Issues() {
		if kind == resources.KindIssue {
			objs = append(objs, issue)
			continue
		}
		for _, c := range h.Tickets.CommentsForIssue(issue.Metadata.Number) {
			if h.commentVisible(scope, c) {
				objs = append(objs, c)
			}
		}
	}

	items := make([]json.RawMessage, 0, len(objs))
	for _, obj := range objs {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		items = append(items, data)
	}
	return items, nil
}

func (h *Handlers) commentVisible(scope rooms.Scope, c *resources.Comment) bool {
	return scope.Allows(h.Namespace(c.Metadata.ProjectName), c.Metadata.Name)
}

// claimsScope is the widest scope the user may subscribe to. REST callers
// have no rooms, so their visibility is derived from their claims.
func (h *Handlers) claimsScope(ctx context.Context, claims *auth.Claims) rooms.Scope {
	joined, err := rooms.Resolve(ctx, auth.NewAuthorizer(claims), rooms.Request{Namespace: rooms.AllNamespaces})
	if err != nil {
		return rooms.Scope{}
	}
	return rooms.NewScope(joined)
}

// SynchronizeRequest is the body of POST /api/v1/synchronize/{resource}.
type SynchronizeRequest struct {
	UIDs []string `json:"uids"`
}

// HandleSynchronize handles POST /api/v1/synchronize/{resource}.
func (h *Handlers) HandleSynchronize(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "No authorization token was found", "")
		return
	}

	var req SynchronizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err.Error())
		return
	}

	items, err := h.Synchronize(h.claimsScope(r.Context(), claims), r.PathValue("resource"), req.UIDs)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, map[string]any{"items": items})
}
