package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentstation/livesync/internal/transport"
	"github.com/agentstation/livesync/pkg/errors"
)

// HTTPRefresher obtains new tokens from a token endpoint. It POSTs
// {"timestamp": <unix seconds>} authenticated with the current token and
// expects {"token": "<jwt>"} back.
type HTTPRefresher struct {
	URL    string
	client *transport.Client
	auth   transport.Authenticator
	now    func() time.Time
}

// NewHTTPRefresher creates a refresher for url.
func NewHTTPRefresher(url string, opts ...transport.Option) *HTTPRefresher {
	return &HTTPRefresher{
		URL:    url,
		client: transport.New("token", nil, append([]transport.Option{transport.WithUserAgent("livesync")}, opts...)...),
		auth:   &transport.BearerAuth{},
		now:    time.Now,
	}
}

type refreshRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type refreshResponse struct {
	Token string `json:"token"`
}

// Refresh implements Refresher.
func (r *HTTPRefresher) Refresh(ctx context.Context, current Token) (Token, error) {
	body, err := json.Marshal(refreshRequest{Timestamp: r.now().Unix()})
	if err != nil {
		return Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return Token{}, err
	}
	r.auth.Apply(req, current.Raw)
	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return Token{}, err
	}
	var out refreshResponse
	if err := r.client.DecodeResponse(resp, &out); err != nil {
		return Token{}, err
	}
	if out.Token == "" {
		return Token{}, errors.NewAuthenticationError(errors.CodeTokenInvalid, "No user", errors.ErrNoUser)
	}
	return ParseToken(out.Token)
}
