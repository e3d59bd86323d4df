package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/internal/github"
	"github.com/agentstation/livesync/internal/server/cache"
)

type fakeReceiver struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (f *fakeReceiver) Handle(_ context.Context, event string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeReceiver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

const webhookSecret = "hook-secret"

func webhookRequest(t *testing.T, body, delivery string, sign bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(github.HeaderEvent, github.EventIssues)
	if delivery != "" {
		req.Header.Set(github.HeaderDelivery, delivery)
	}
	if sign {
		sig, err := github.Signature(webhookSecret, []byte(body), "sha256")
		require.NoError(t, err)
		req.Header.Set(github.HeaderSignature256, sig)
	}
	return req
}

func newWebhookHandlers(t *testing.T, receiver WebhookReceiver) *Handlers {
	t.Helper()
	h := newTestHandlers(t)
	h.Receiver = receiver
	h.WebhookSecret = webhookSecret
	h.Deliveries = cache.New(time.Minute, time.Minute)
	return h
}

func TestHandleWebhook(t *testing.T) {
	receiver := &fakeReceiver{}
	h := newWebhookHandlers(t, receiver)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, `{"action":"opened"}`, "d-1", true))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{github.EventIssues}, receiver.events)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	receiver := &fakeReceiver{}
	h := newWebhookHandlers(t, receiver)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, `{}`, "d-1", false))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := webhookRequest(t, `{}`, "d-2", false)
	req.Header.Set(github.HeaderSignature, "sha1=deadbeef")
	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Zero(t, receiver.calls())
}

func TestHandleWebhookWithoutSecret(t *testing.T) {
	h := newWebhookHandlers(t, &fakeReceiver{})
	h.WebhookSecret = ""

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, `{}`, "", true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebhookSkipsRedelivery(t *testing.T) {
	receiver := &fakeReceiver{}
	h := newWebhookHandlers(t, receiver)

	for range 3 {
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, webhookRequest(t, `{}`, "d-1", true))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Equal(t, 1, receiver.calls())
}

func TestHandleWebhookFailureAllowsRetry(t *testing.T) {
	receiver := &fakeReceiver{err: errors.New("boom")}
	h := newWebhookHandlers(t, receiver)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, `{}`, "d-1", true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	receiver.err = nil
	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, `{}`, "d-1", true))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, receiver.calls())
}
