package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/pkg/errors"
)

func TestAuthenticators(t *testing.T) {
	tests := []struct {
		name   string
		auth   Authenticator
		header string
		want   string
	}{
		{"bearer", &BearerAuth{}, "Authorization", "Bearer secret"},
		{"token", &TokenAuth{}, "Authorization", "token secret"},
		{"header", &HeaderAuth{Header: "X-Api-Key"}, "X-Api-Key", "secret"},
		{"cookie", &CookieAuth{Name: "token"}, "Cookie", "token=secret"},
		{"none", &NoAuth{}, "Authorization", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.auth.Apply(req, "secret")
			assert.Equal(t, tt.want, req.Header.Get(tt.header))
		})
	}
}

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		assert.Equal(t, "livesync-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "v3", r.Header.Get("X-Version"))
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := New("test", &BearerAuth{},
		WithToken(StaticToken("t0k")),
		WithUserAgent("livesync-test"),
		WithHeader("X-Version", "v3"),
	)
	var out struct{ Name string }
	_, err := c.GetJSON(context.Background(), srv.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
}

func TestClientEmptyTokenSkipsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New("test", &BearerAuth{}, WithToken(StaticToken("")))
	_, err := c.GetJSON(context.Background(), srv.URL, nil)
	require.NoError(t, err)
}

func TestClientAPIErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, errors.IsNotFound},
		{http.StatusTooManyRequests, errors.IsRateLimited},
		{http.StatusUnauthorized, errors.IsUnauthorized},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := New("github", nil).GetJSON(context.Background(), srv.URL, &struct{}{})
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.status, errors.StatusCode(err))

			var apiErr *errors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, "github", apiErr.Service)
		})
	}
}

func TestNextLink(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Empty(t, NextLink(resp))

	resp.Header.Set("Link", `<https://api.github.com/x?page=2>; rel="next", <https://api.github.com/x?page=5>; rel="last"`)
	assert.Equal(t, "https://api.github.com/x?page=2", NextLink(resp))

	resp.Header.Set("Link", `<https://api.github.com/x?page=1>; rel="prev"`)
	assert.Empty(t, NextLink(resp))
}

func TestURL(t *testing.T) {
	assert.Equal(t, "https://api.github.com/repos/o/r/issues", URL("https://api.github.com/", "/repos/o/r/issues", nil))
	assert.Equal(t, "http://h/a?per_page=100&state=open", URL("http://h", "a", url.Values{"state": {"open"}, "per_page": {"100"}}))
}
