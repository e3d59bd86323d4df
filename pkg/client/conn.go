// Package client is the subscriber side of a livesync server: a websocket
// connection that keeps its credential valid, reconnects with backoff,
// restores its subscription and feeds push notifications to reconcile
// engines.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/pkg/client/session"
	"github.com/agentstation/livesync/pkg/emitter"
	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/protocol"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
)

const (
	// DefaultAckTimeout bounds the wait for a request acknowledgement.
	DefaultAckTimeout = 60 * time.Second

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

// ErrRunning is returned by Run when the Conn is already running.
var ErrRunning = errors.New("client: already running")

// State is the lifecycle state of a Conn.
type State int32

// Connection states.
const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	}
	return "closed"
}

// ResyncFunc reloads state after a (re)connect.
type ResyncFunc func(ctx context.Context) error

// Options configures a Conn.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/api/v1/events.
	URL   string
	Guard *session.Guard
	// Backoff defaults to session.DefaultBackoff().
	Backoff    session.Backoff
	Dialer     *websocket.Dialer
	AckTimeout time.Duration
	Logger     *zerolog.Logger
	// OnSignOut is called once when the session cannot continue.
	OnSignOut func(err error)
}

// Conn is a reconnecting websocket connection to a livesync server.
type Conn struct {
	url        string
	guard      *session.Guard
	backoff    session.Backoff
	dialer     *websocket.Dialer
	ackTimeout time.Duration
	logger     *zerolog.Logger
	onSignOut  func(error)

	events *emitter.Emitter[resources.Notification]
	state  atomic.Int32

	mu         sync.Mutex
	ws         *websocket.Conn
	sid        string
	descriptor *rooms.Request
	hooks      []ResyncFunc
	pending    map[string]chan protocol.Ack
	syncing    map[string]bool
	cancel     context.CancelFunc

	writeMu sync.Mutex

	// dispatchMu orders event delivery; events received while resyncing
	// are held in buffer and replayed afterwards.
	dispatchMu sync.Mutex
	resyncing  bool
	buffer     []event
}

type event struct {
	channel string
	n       resources.Notification
}

// New creates a closed connection. Call Run to connect.
func New(opts Options) *Conn {
	c := &Conn{
		url:        opts.URL,
		guard:      opts.Guard,
		backoff:    opts.Backoff,
		dialer:     opts.Dialer,
		ackTimeout: opts.AckTimeout,
		logger:     logging.OrNop(opts.Logger),
		onSignOut:  opts.OnSignOut,
		events:     emitter.New[resources.Notification](),
		pending:    make(map[string]chan protocol.Ack),
		syncing:    make(map[string]bool),
	}
	if c.backoff == (session.Backoff{}) {
		c.backoff = session.DefaultBackoff()
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if c.ackTimeout == 0 {
		c.ackTimeout = DefaultAckTimeout
	}
	if c.guard == nil {
		c.guard = session.NewGuard(session.Token{}, nil)
	}
	return c
}

// State returns the current state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// SID returns the server assigned id of the current session.
func (c *Conn) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// On registers fn for notifications on channel ("issues" or "comments").
// Handlers run on the read goroutine and must not block on the Conn.
func (c *Conn) On(channel string, fn func(resources.Notification)) (unsubscribe func()) {
	return c.events.Subscribe(channel, fn)
}

// OnResync registers fn to run after every successful (re)connect.
func (c *Conn) OnResync(fn ResyncFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Run connects and keeps the connection open until ctx is done, Close is
// called, the session is signed out or the reconnect attempts run out.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrRunning
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
	}()

	attempt := 0
	for {
		res := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if res.signOut != nil {
			c.logger.Warn().Err(res.signOut).Msg("Signing out")
			if c.onSignOut != nil {
				c.onSignOut(res.signOut)
			}
			return res.signOut
		}
		if res.opened {
			attempt = 0
		}
		if res.immediate {
			continue
		}

		if c.backoff.Exhausted(attempt + 1) {
			c.logger.Error().Err(res.err).Int("attempts", attempt).Msg("Giving up reconnecting")
			return errors.ErrReconnectLimit
		}
		delay := c.backoff.Next(attempt)
		attempt++
		c.logger.Info().
			Err(res.err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Close stops Run and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	ws := c.ws
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		return ws.Close()
	}
	return nil
}

type result struct {
	opened    bool
	immediate bool
	signOut   error
	err       error
}

// session runs one connection from dial to disconnect.
func (c *Conn) session(ctx context.Context) result {
	token, err := c.guard.EnsureValidToken(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to ensure valid token")
		token = c.guard.Token().Raw
	}

	c.state.Store(int32(StateOpening))
	ws, err := c.dial(ctx, token)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return c.refused(err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state.Store(int32(StateOpen))
	descriptor := c.descriptor
	hooks := append([]ResyncFunc(nil), c.hooks...)
	c.mu.Unlock()
	c.logger.Info().Str("sid", c.SID()).Msg("Connected")

	c.beginResync()
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(ws) }()

	if descriptor != nil {
		if _, err := c.request(ctx, protocol.Request{Action: protocol.ActionSubscribe, Descriptor: descriptor}); err != nil {
			c.logger.Error().Err(err).Msg("Failed to restore subscription")
		}
	}
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			c.logger.Error().Err(err).Msg("Resync failed")
		}
	}
	c.endResync()

	select {
	case err = <-readErr:
	case <-ctx.Done():
		_ = ws.Close()
		err = <-readErr
	}
	c.disconnected(ws)

	res := result{opened: true, err: err}
	if ctx.Err() != nil {
		return res
	}
	c.logger.Info().Err(err).Msg("Disconnected")

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text == protocol.ServerDisconnect {
		if c.guard.Expired() {
			res.signOut = errors.NewAuthenticationError(errors.CodeTokenExpired, "Session expired", nil)
			return res
		}
		res.immediate = true
	}
	return res
}

// dial opens the socket and waits for the handshake frame.
func (c *Conn) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var f protocol.Frame
	if err := ws.ReadJSON(&f); err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch f.Op {
	case protocol.OpConnected:
		c.mu.Lock()
		c.sid = f.SID
		c.mu.Unlock()
		return ws, nil
	case protocol.OpConnectError:
		_ = ws.Close()
		if f.Error == nil {
			return nil, &errors.ConnectError{Message: "connection refused", StatusCode: http.StatusUnauthorized}
		}
		return nil, f.Error.AsError()
	}
	_ = ws.Close()
	return nil, fmt.Errorf("unexpected handshake frame %q", f.Op)
}

// refused turns a failed dial into the next step.
func (c *Conn) refused(err error) result {
	var ce *errors.ConnectError
	if !errors.As(err, &ce) {
		return result{err: err}
	}
	d := session.Classify(ce, c.guard.Now())
	if d.Action == session.SignOut {
		return result{signOut: d.Err}
	}
	if ce.Code == errors.CodeTokenRefreshRequired {
		c.guard.RequireRefresh(ce.RTI, c.guard.Now())
	}
	return result{err: err}
}

func (c *Conn) disconnected(ws *websocket.Conn) {
	_ = ws.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == ws {
		c.ws = nil
	}
	c.state.Store(int32(StateClosed))
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		var f protocol.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Op {
		case protocol.OpEvent:
			if f.Event != nil {
				c.dispatch(f.Channel, *f.Event)
			}
		case protocol.OpAck:
			c.resolve(f.Ack)
		default:
			c.logger.Debug().Str("op", string(f.Op)).Msg("Ignoring frame")
		}
	}
}

func (c *Conn) dispatch(channel string, n resources.Notification) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if c.resyncing {
		c.buffer = append(c.buffer, event{channel: channel, n: n})
		return
	}
	c.events.Publish(channel, n)
}

func (c *Conn) beginResync() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.resyncing = true
}

func (c *Conn) endResync() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for _, e := range c.buffer {
		c.events.Publish(e.channel, e.n)
	}
	c.buffer = nil
	c.resyncing = false
}

func (c *Conn) resolve(ack protocol.Ack) {
	c.mu.Lock()
	ch, ok := c.pending[ack.ID]
	delete(c.pending, ack.ID)
	c.mu.Unlock()
	if ok {
		ch <- ack
	}
}

// request sends req and waits for its acknowledgement.
func (c *Conn) request(ctx context.Context, req protocol.Request) (protocol.Ack, error) {
	req.ID = uuid.NewString()
	ch := make(chan protocol.Ack, 1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil || c.State() != StateOpen {
		c.mu.Unlock()
		return protocol.Ack{}, errors.ErrNotConnected
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return protocol.Ack{}, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return protocol.Ack{}, errors.ErrNotConnected
		}
		return ack, ack.Err()
	case <-timer.C:
		return protocol.Ack{}, errors.NewTimeoutError(string(req.Action), c.ackTimeout)
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}
}

// Subscribe joins the rooms described by d. The descriptor is kept and
// re-issued after every reconnect; when not connected it only takes effect
// on the next open.
func (c *Conn) Subscribe(ctx context.Context, d rooms.Request) error {
	c.mu.Lock()
	c.descriptor = &d
	c.mu.Unlock()
	if c.State() != StateOpen {
		return nil
	}
	_, err := c.request(ctx, protocol.Request{Action: protocol.ActionSubscribe, Descriptor: &d})
	return err
}

// Unsubscribe leaves every room.
func (c *Conn) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	c.descriptor = nil
	c.mu.Unlock()
	if c.State() != StateOpen {
		return nil
	}
	_, err := c.request(ctx, protocol.Request{Action: protocol.ActionUnsubscribe})
	return err
}

// Synchronize re-fetches uids of resource. Only one synchronize per
// resource may be in flight; different resources do not block each other.
func (c *Conn) Synchronize(ctx context.Context, resource string, uids []string) ([]json.RawMessage, error) {
	c.mu.Lock()
	if c.syncing[resource] {
		c.mu.Unlock()
		return nil, errors.NewTooManyRequests("a synchronize request for " + resource + " is already in flight")
	}
	c.syncing[resource] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.syncing, resource)
		c.mu.Unlock()
	}()

	ack, err := c.request(ctx, protocol.Request{Action: protocol.ActionSynchronize, Resource: resource, UIDs: uids})
	if err != nil {
		return nil, err
	}
	return ack.Items, nil
}

// List returns every object of resource visible to this session.
func (c *Conn) List(ctx context.Context, resource string) ([]json.RawMessage, error) {
	ack, err := c.request(ctx, protocol.Request{Action: protocol.ActionList, Resource: resource})
	if err != nil {
		return nil, err
	}
	return ack.Items, nil
}
