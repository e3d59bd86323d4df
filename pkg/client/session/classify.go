package session

import (
	"time"

	"github.com/agentstation/livesync/pkg/errors"
)

// ClockSkewTolerance is how long a credential may still look valid locally
// when the server already demands its refresh.
const ClockSkewTolerance = 5 * time.Second

// Action is what a client does after a refused connection.
type Action int

// Actions.
const (
	// Reconnect retries after a backoff delay.
	Reconnect Action = iota
	// SignOut ends the session.
	SignOut
)

func (a Action) String() string {
	if a == SignOut {
		return "sign-out"
	}
	return "reconnect"
}

// Decision is the outcome of Classify.
type Decision struct {
	Action Action
	// Err is the reason for signing out.
	Err error
}

// Classify decides how to react to a connect error reported at now.
func Classify(ce *errors.ConnectError, now time.Time) Decision {
	switch ce.Code {
	case errors.CodeTokenRefreshRequired:
		if ce.Exp != nil {
			expiresIn := time.Unix(*ce.Exp, 0).Sub(now)
			if expiresIn > ClockSkewTolerance {
				return Decision{Action: SignOut, Err: &errors.ClockSkewError{ExpiresIn: expiresIn}}
			}
		}
	case errors.CodeTokenExpired:
		return Decision{Action: SignOut, Err: ce}
	}
	return Decision{Action: Reconnect}
}
