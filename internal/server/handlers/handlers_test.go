package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
	"github.com/agentstation/livesync/pkg/tickets"
)

const testSecret = "test-secret"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testIssue(number int, projectName, name string) resources.Issue {
	return resources.Issue{
		Kind: resources.KindIssue,
		Metadata: resources.Metadata{
			ID:          int64(number) * 100,
			Number:      number,
			UpdatedAt:   t0,
			State:       resources.StateOpen,
			Name:        name,
			ProjectName: projectName,
		},
		Data: resources.IssueData{Title: "ticket " + name},
	}
}

func testComment(number int, id int64, projectName, name string) resources.Comment {
	return resources.Comment{
		Kind: resources.KindComment,
		Metadata: resources.Metadata{
			ID:          id,
			Number:      number,
			UpdatedAt:   t0,
			Name:        name,
			ProjectName: projectName,
		},
		Data: resources.CommentData{Body: "comment"},
	}
}

// newTestHandlers returns handlers over a cache with two tickets: #1 for
// dev/shoot1 and #2 for prod/db, each with one comment.
func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	log := logging.NewTestLogger(t)
	cache := tickets.New(tickets.WithLogger(log.Logger))
	cache.AddOrUpdateIssues([]resources.Issue{
		testIssue(1, "dev", "shoot1"),
		testIssue(2, "prod", "db"),
	})
	cache.AddOrUpdateComment(1, testComment(1, 10, "dev", "shoot1"))
	cache.AddOrUpdateComment(2, testComment(2, 20, "prod", "db"))

	authn, err := auth.New(testSecret)
	require.NoError(t, err)

	return New(Deps{
		Tickets:       cache,
		Authenticator: authn,
		Logger:        log.Logger,
	})
}

func token(t *testing.T, h *Handlers, claims *auth.Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := h.Authenticator.Sign(claims)
	require.NoError(t, err)
	return s
}

func decodeItems(t *testing.T, items []json.RawMessage) []map[string]any {
	t.Helper()
	out := make([]map[string]any, len(items))
	for i, item := range items {
		require.NoError(t, json.Unmarshal(item, &out[i]))
	}
	return out
}

func TestSynchronizeIssues(t *testing.T) {
	h := newTestHandlers(t)

	items, err := h.Synchronize(rooms.Scope{}, "issues", []string{"2", "99", "1"})
	require.NoError(t, err)
	got := decodeItems(t, items)
	require.Len(t, got, 3)

	assert.Equal(t, "issue", got[0]["kind"])
	assert.EqualValues(t, 2, got[0]["metadata"].(map[string]any)["number"])

	assert.Equal(t, string(resources.KindStatus), got[1]["kind"])
	assert.EqualValues(t, 404, got[1]["code"])
	assert.Equal(t, "99", got[1]["details"].(map[string]any)["uid"])

	assert.EqualValues(t, 1, got[2]["metadata"].(map[string]any)["number"])
}

func TestSynchronizeCommentsRespectsScope(t *testing.T) {
	h := newTestHandlers(t)
	scope := rooms.NewScope([]string{rooms.NamespaceRoom("", "garden-dev")})

	items, err := h.Synchronize(scope, "comments", []string{"1/10", "2/20", "bogus"})
	require.NoError(t, err)
	got := decodeItems(t, items)
	require.Len(t, got, 3)

	assert.Equal(t, "comment", got[0]["kind"])
	assert.Equal(t, string(resources.KindStatus), got[1]["kind"])
	assert.Equal(t, "2/20", got[1]["details"].(map[string]any)["uid"])
	assert.Equal(t, string(resources.KindStatus), got[2]["kind"])
}

func TestSynchronizeUnknownResource(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.Synchronize(rooms.Scope{}, "shoots", []string{"1"})
	require.Error(t, err)
}

func TestList(t *testing.T) {
	h := newTestHandlers(t)

	issues, err := h.List(rooms.Scope{}, "issues")
	require.NoError(t, err)
	assert.Len(t, issues, 2)

	comments, err := h.List(rooms.NewScope([]string{rooms.ResourceRoom("garden-prod", "db")}), "comments")
	require.NoError(t, err)
	got := decodeItems(t, comments)
	require.Len(t, got, 1)
	assert.EqualValues(t, 20, got[0]["metadata"].(map[string]any)["id"])

	admin, err := h.List(rooms.NewScope([]string{rooms.AdminRoom("")}), "comments")
	require.NoError(t, err)
	assert.Len(t, admin, 2)
}

func TestHandleSynchronize(t *testing.T) {
	h := newTestHandlers(t)
	claims := &auth.Claims{Namespaces: []string{"garden-dev"}}

	body := bytes.NewBufferString(`{"uids":["1/10","2/20"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/synchronize/comments", body)
	req.SetPathValue("resource", "comments")
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()

	h.HandleSynchronize(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Items []json.RawMessage `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	got := decodeItems(t, resp.Data.Items)
	require.Len(t, got, 2)
	assert.Equal(t, "comment", got[0]["kind"])
	assert.Equal(t, string(resources.KindStatus), got[1]["kind"])
}

func TestHandleSynchronizeRequiresClaims(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/synchronize/issues", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.HandleSynchronize(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSynchronizeBadBody(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/synchronize/issues", strings.NewReader(`{`))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{}))
	rec := httptest.NewRecorder()

	h.HandleSynchronize(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthAndReady(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	ready := false
	h.Ready = func() bool { return ready }

	rec = httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tickets":2`)
}

func TestHandleIssues(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleListIssues(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues?projectName=dev&name=shoot1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = httptest.NewRecorder()
	h.HandleListIssues(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues", nil))
	assert.Contains(t, rec.Body.String(), `"count":2`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/2", nil)
	req.SetPathValue("number", "2")
	rec = httptest.NewRecorder()
	h.HandleGetIssue(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/issues/7", nil)
	req.SetPathValue("number", "7")
	rec = httptest.NewRecorder()
	h.HandleGetIssue(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/issues/x", nil)
	req.SetPathValue("number", "x")
	rec = httptest.NewRecorder()
	h.HandleGetIssue(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListCommentsScoped(t *testing.T) {
	h := newTestHandlers(t)

	list := func(claims *auth.Claims, number string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/"+number+"/comments", nil)
		req.SetPathValue("number", number)
		req = req.WithContext(auth.WithClaims(context.Background(), claims))
		rec := httptest.NewRecorder()
		h.HandleListComments(rec, req)
		return rec
	}

	rec := list(&auth.Claims{Namespaces: []string{"garden-dev"}}, "1")
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = list(&auth.Claims{Namespaces: []string{"garden-dev"}}, "2")
	assert.Contains(t, rec.Body.String(), `"count":0`)

	rec = list(&auth.Claims{Admin: true}, "2")
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestHandleListIssuesFilters(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.HandleListIssues(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues?projectName=prod", nil))
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = httptest.NewRecorder()
	h.HandleListIssues(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues?title_contains=SHOOT1", nil))
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = httptest.NewRecorder()
	h.HandleListIssues(rec, httptest.NewRequest(http.MethodGet, "/api/v1/issues?limit=1&offset=5", nil))
	assert.Contains(t, rec.Body.String(), `"count":0`)
}
