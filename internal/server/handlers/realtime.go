package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/internal/server/response"
	ws "github.com/agentstation/livesync/internal/server/websocket"
	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/protocol"
	"github.com/agentstation/livesync/pkg/rooms"
)

const handshakeWriteWait = 5 * time.Second

// HandleWebSocket handles websocket sessions at /api/v1/events.
//
// The handshake is authenticated before the session starts. A refused
// handshake still completes the upgrade so the client receives a
// connect_error frame it can act on. Sessions whose token carries a
// refresh token id are disconnected when the refresh time is reached.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, authErr := h.Authenticator.VerifySession(auth.TokenFromRequest(r))

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	if authErr != nil {
		h.Logger.Error().Err(authErr).Str("remote_addr", r.RemoteAddr).Msg("Socket authentication failed")
		h.Metrics.Request("connect", errors.StatusCode(authErr))
		_ = conn.SetWriteDeadline(time.Now().Add(handshakeWriteWait))
		_ = conn.WriteJSON(protocol.Frame{Op: protocol.OpConnectError, Error: protocol.NewConnectError(authErr)})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		_ = conn.Close()
		return
	}

	id := uuid.NewString()
	client := ws.NewClient(id, h.Hub, conn, claims, h, h.Client)
	if err := client.Send(protocol.Frame{Op: protocol.OpConnected, SID: id}); err != nil {
		_ = conn.Close()
		return
	}
	if !h.Hub.Register(client) {
		_ = conn.Close()
		return
	}
	if claims.RTI != "" {
		client.ExpireAt(time.Now().Add(claims.RefreshIn(h.Authenticator.Now())))
	}
	h.Logger.Debug().Str("client_id", id).Str("user", claims.ID()).Msg("Socket authenticated")

	ctx := logging.WithClient(logging.WithLogger(h.Ctx, h.Logger), id)
	go client.WritePump()
	go client.ReadPump(ctx)
}

// HandleRequest answers the requests of a websocket session.
func (h *Handlers) HandleRequest(ctx context.Context, c *ws.Client, req protocol.Request) protocol.Ack {
	if c.Claims() == nil {
		return protocol.Fail(req.ID, errors.NewAuthenticationError(errors.CodeTokenInvalid, "No user", errors.ErrNoUser))
	}

	ctx = logging.WithOperation(ctx, string(req.Action))
	var (
		items []json.RawMessage
		err   error
	)
	switch req.Action {
	case protocol.ActionSubscribe:
		err = h.subscribe(ctx, c, req.Descriptor)
	case protocol.ActionUnsubscribe:
		c.LeaveAll()
	case protocol.ActionSynchronize:
		if !c.AllowSynchronize() {
			err = errors.NewTooManyRequests("Too many synchronize requests")
			break
		}
		items, err = h.Synchronize(c.Scope(), req.Resource, req.UIDs)
	case protocol.ActionList:
		items, err = h.List(c.Scope(), req.Resource)
	default:
		err = errors.NewValidationError("action", "unknown action "+string(req.Action))
	}

	if err != nil {
		logging.FromContext(ctx).Error().
			Err(err).
			Msg("Socket request failed")
		return protocol.Fail(req.ID, err)
	}
	return protocol.OK(req.ID, items)
}

func (h *Handlers) subscribe(ctx context.Context, c *ws.Client, descriptor *rooms.Request) error {
	if descriptor == nil {
		return errors.NewValidationError("descriptor", "required")
	}
	joined, err := rooms.Resolve(ctx, auth.NewAuthorizer(c.Claims()), *descriptor)
	if err != nil {
		return err
	}
	c.Join(joined...)
	logging.FromContext(ctx).Debug().
		Str("user", c.UserID()).
		Strs("rooms", joined).
		Msg("User joined rooms")
	return nil
}

// HandleSSE handles GET /api/v1/events/stream. The namespace, name and
// labelSelector query parameters select rooms like a websocket subscribe;
// without them the stream carries issue events only.
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "No authorization token was found", "")
		return
	}

	q := r.URL.Query()
	var scope rooms.Scope
	if ns := q.Get("namespace"); ns != "" {
		joined, err := rooms.Resolve(r.Context(), auth.NewAuthorizer(claims), rooms.Request{
			Namespace:     ns,
			Name:          q.Get("name"),
			LabelSelector: q.Get("labelSelector"),
		})
		if err != nil {
			response.ErrorFromType(w, err)
			return
		}
		scope = rooms.NewScope(joined)
	}

	h.SSEBroadcaster.Serve(w, r, scope)
}
