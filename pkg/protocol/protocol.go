// Package protocol defines the JSON frames exchanged over the livesync
// websocket.
//
// Server to client frames carry an Op: connected, connect_error, event or
// ack. Client to server frames are Requests correlated with their ack by ID.
package protocol

import (
	"encoding/json"
	"net/http"

	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/resources"
	"github.com/agentstation/livesync/pkg/rooms"
)

// Op is the type of a server frame.
type Op string

// Server frame ops.
const (
	OpConnected    Op = "connected"
	OpConnectError Op = "connect_error"
	OpEvent        Op = "event"
	OpAck          Op = "ack"
)

// Action is the type of a client request.
type Action string

// Client actions.
const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionSynchronize Action = "synchronize"
	ActionList        Action = "list"
)

// Push channels.
const (
	ChannelIssues   = "issues"
	ChannelComments = "comments"
)

// ServerDisconnect is the close reason used when the server ends a session,
// for example because the credential reached its refresh time.
const ServerDisconnect = "io server disconnect"

// Frame is a server to client message.
type Frame struct {
	Op      Op                      `json:"op"`
	SID     string                  `json:"sid,omitempty"`
	Channel string                  `json:"channel,omitempty"`
	Event   *resources.Notification `json:"event,omitempty"`
	Error   *ConnectError           `json:"error,omitempty"`
	Ack
}

// Ack acknowledges a Request.
type Ack struct {
	ID         string            `json:"id,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	Name       string            `json:"name,omitempty"`
	Message    string            `json:"message,omitempty"`
	Items      []json.RawMessage `json:"items,omitempty"`
}

// Err converts a failed ack into an error, or returns nil.
func (a Ack) Err() error {
	if a.StatusCode == 0 || a.StatusCode == http.StatusOK {
		return nil
	}
	return &errors.StatusError{StatusCode: a.StatusCode, Name: a.Name, Message: a.Message}
}

// OK builds a successful ack.
func OK(id string, items []json.RawMessage) Ack {
	return Ack{ID: id, StatusCode: http.StatusOK, Items: items}
}

// Fail builds a failed ack from err, using its status code when it has one.
func Fail(id string, err error) Ack {
	code := errors.StatusCode(err)
	if code == 0 {
		code = http.StatusInternalServerError
		if errors.IsValidationError(err) {
			code = http.StatusBadRequest
		}
	}
	ack := Ack{ID: id, StatusCode: code, Message: err.Error()}
	var se *errors.StatusError
	if errors.As(err, &se) {
		ack.Name = se.Name
		ack.Message = se.Message
	}
	if ack.Name == "" {
		ack.Name = errors.NewStatusError(code, "").Name
	}
	return ack
}

// ConnectError is sent when the server refuses a connection.
type ConnectError struct {
	Message string           `json:"message"`
	Data    ConnectErrorData `json:"data"`
}

// ConnectErrorData carries the machine readable part of a ConnectError.
type ConnectErrorData struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code,omitempty"`
	Exp        *int64 `json:"exp,omitempty"`
	RTI        string `json:"rti,omitempty"`
}

// NewConnectError builds the frame payload for err.
func NewConnectError(err error) *ConnectError {
	ce := &ConnectError{
		Message: err.Error(),
		Data:    ConnectErrorData{StatusCode: http.StatusUnauthorized},
	}
	var ae *errors.AuthenticationError
	if errors.As(err, &ae) {
		ce.Message = ae.Message
		ce.Data.Code = ae.Code
		ce.Data.RTI = ae.RTI
		if ae.Exp != 0 {
			exp := ae.Exp
			ce.Data.Exp = &exp
		}
	}
	return ce
}

// AsError converts the payload into a typed error.
func (c *ConnectError) AsError() *errors.ConnectError {
	return &errors.ConnectError{
		Message:    c.Message,
		StatusCode: c.Data.StatusCode,
		Code:       c.Data.Code,
		Exp:        c.Data.Exp,
		RTI:        c.Data.RTI,
	}
}

// Request is a client to server message.
type Request struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	Descriptor *rooms.Request `json:"descriptor,omitempty"`
	UIDs       []string       `json:"uids,omitempty"`
}
