package adapters

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/internal/server/events"
	"github.com/agentstation/livesync/internal/server/sse"
	ws "github.com/agentstation/livesync/internal/server/websocket"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
)

func issueEvent(uid string) events.Event {
	return events.Event{
		Channel:      "issues",
		Notification: resources.Notification{Type: resources.Modified, UID: uid},
		Broadcast:    true,
		Timestamp:    time.Now(),
	}
}

func TestSubscribersSatisfyInterface(t *testing.T) {
	logger := zerolog.Nop()
	var _ events.Subscriber = NewWebSocketSubscriber(ws.NewHub(&logger, nil))
	var _ events.Subscriber = NewSSESubscriber(sse.NewBroadcaster(&logger, nil))
}

func TestWebSocketSubscriberSendWithoutRunningHub(t *testing.T) {
	logger := zerolog.Nop()
	sub := NewWebSocketSubscriber(ws.NewHub(&logger, nil))

	// Send never blocks even when nobody drains the hub.
	for i := 0; i < 10; i++ {
		assert.NoError(t, sub.Send(issueEvent("1")))
	}
	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
}

func TestSSESubscriberDeliversThroughBroker(t *testing.T) {
	logger := zerolog.Nop()
	broadcaster := sse.NewBroadcaster(&logger, nil)
	broker := events.NewBroker(&logger)
	broker.Subscribe(NewSSESubscriber(broadcaster))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcaster.Run(ctx)
	go broker.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broadcaster.Serve(w, r, rooms.Scope{})
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return broadcaster.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	broker.Publish(issueEvent("42"))

	reader := bufio.NewReader(resp.Body)
	var seen []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen = append(seen, line)
		if strings.HasPrefix(line, "data: {\"type\"") {
			break
		}
	}
	assert.Equal(t, []string{
		"event: connected",
		"data: {}",
		"event: issues",
		`data: {"type":"MODIFIED","uid":"42"}`,
	}, seen)
}
