package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/logging"
)

// DefaultTolerance is the clock tolerance applied to exp and refresh_at.
const DefaultTolerance = 15 * time.Second

// DefaultLockName is the refresh lock shared by guards that do not name
// their own.
const DefaultLockName = "token-refresh-request"

// Refresher exchanges the current token for a fresh one.
type Refresher interface {
	Refresh(ctx context.Context, current Token) (Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, current Token) (Token, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, current Token) (Token, error) {
	return f(ctx, current)
}

// Guard holds the credential of one session and refreshes it on demand.
// Concurrent callers share a single refresh.
type Guard struct {
	refresher Refresher
	tolerance time.Duration
	lockName  string
	now       func() time.Time
	logger    *zerolog.Logger

	mu    sync.RWMutex
	token Token

	group singleflight.Group
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) GuardOption {
	return func(g *Guard) { g.tolerance = d }
}

// WithLockName sets the name of the process wide refresh lock.
func WithLockName(name string) GuardOption {
	return func(g *Guard) { g.lockName = name }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard creates a guard for token. refresher may be nil when the token
// cannot be refreshed.
func NewGuard(token Token, refresher Refresher, opts ...GuardOption) *Guard {
	g := &Guard{
		refresher: refresher,
		tolerance: DefaultTolerance,
		lockName:  DefaultLockName,
		now:       time.Now,
		token:     token,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger)
	return g
}

// Token returns the current token.
func (g *Guard) Token() Token {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// SetToken replaces the current token.
func (g *Guard) SetToken(t Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = t
}

// Now returns the guard's clock reading.
func (g *Guard) Now() time.Time {
	return g.now()
}

// Expired reports whether the session reached its absolute lifetime.
func (g *Guard) Expired() bool {
	return g.Token().Expired(g.now(), g.tolerance)
}

// RequireRefresh marks the current token for refresh at the latest by
// refreshAt, as demanded by the server.
func (g *Guard) RequireRefresh(rti string, refreshAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rti != "" {
		g.token.RTI = rti
	}
	if g.token.RefreshAt.IsZero() || refreshAt.Before(g.token.RefreshAt) {
		g.token.RefreshAt = refreshAt
	}
}

// check classifies tok: nil when usable, or the error that makes it
// unusable. refresh reports whether a refresh would help.
func (g *Guard) check(tok Token) (refresh bool, err error) {
	now := g.now()
	switch {
	case tok.Empty():
		return false, errors.NewAuthenticationError(errors.CodeTokenInvalid, "No user", errors.ErrNoUser)
	case tok.Expired(now, g.tolerance):
		return false, errors.NewAuthenticationError(errors.CodeTokenExpired, "Session expired", nil)
	case tok.RefreshRequired(now, g.tolerance):
		return true, nil
	}
	return false, nil
}

// EnsureValidToken returns a token that is neither expired nor due for
// refresh, refreshing it first when needed. At most one refresh runs at a
// time; callers arriving during a refresh share its result.
func (g *Guard) EnsureValidToken(ctx context.Context) (string, error) {
	tok := g.Token()
	refresh, err := g.check(tok)
	if err != nil {
		return "", err
	}
	if !refresh {
		return tok.Raw, nil
	}

	v, err, _ := g.group.Do(g.lockName, func() (any, error) {
		return g.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(Token).Raw, nil
}

func (g *Guard) refresh(ctx context.Context) (Token, error) {
	tok := g.Token()
	g.logger.Debug().Str("rti", tok.RTI).Msg("Acquiring token refresh lock")
	release, err := locks.acquire(ctx, g.lockName)
	if err != nil {
		return Token{}, err
	}
	defer release()

	// another guard may have refreshed while we waited
	tok = g.Token()
	refresh, err := g.check(tok)
	if err != nil || !refresh {
		return tok, err
	}
	if g.refresher == nil {
		return Token{}, errors.NewAuthenticationError(errors.CodeTokenRefreshRequired, "Token refresh required", nil)
	}

	g.logger.Debug().Str("rti", tok.RTI).Msg("Refreshing token")
	next, err := g.refresher.Refresh(ctx, tok)
	if err != nil {
		g.logger.Error().Err(err).Msg("Token refresh failed")
		return Token{}, err
	}
	if _, err := g.check(next); err != nil {
		return Token{}, err
	}
	if next.RefreshRequired(g.now(), g.tolerance) {
		return Token{}, &errors.ClockSkewError{ExpiresIn: next.RefreshAt.Sub(g.now())}
	}

	g.SetToken(next)
	g.logger.Debug().Str("rti", next.RTI).Str("previous_rti", tok.RTI).Msg("Token has been refreshed")
	return next, nil
}
