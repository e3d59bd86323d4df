// Package auth verifies the JWT credentials presented by livesync clients
// and answers authorization questions from their claims.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/agentstation/livesync/pkg/errors"
	"github.com/agentstation/livesync/pkg/rooms"
)

// CookieName is the cookie a browser session carries its token in.
const CookieName = "token"

// Claims are the livesync specific JWT claims.
type Claims struct {
	jwt.RegisteredClaims

	// Admin grants the global subscription scope.
	Admin bool `json:"admin,omitempty"`
	// Namespaces the user is a member of.
	Namespaces []string `json:"namespaces,omitempty"`
	// RTI is the refresh token id. When set, the session must be refreshed
	// at RefreshAt (unix seconds).
	RTI       string `json:"rti,omitempty"`
	RefreshAt int64  `json:"refresh_at,omitempty"`
}

// ID returns the user id.
func (c *Claims) ID() string {
	return c.Subject
}

// RefreshIn returns the time left until the refresh deadline. It is zero
// when the token carries no refresh token id.
func (c *Claims) RefreshIn(now time.Time) time.Duration {
	if c.RTI == "" {
		return 0
	}
	return time.Unix(c.RefreshAt, 0).Sub(now)
}

// Authenticator verifies and signs HS256 tokens.
type Authenticator struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithLeeway allows for clock drift when validating exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) { a.leeway = d }
}

// New creates an Authenticator for secret.
func New(secret string, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, pkgerrors.NewConfigError("auth", "secret must not be empty", nil)
	}
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Verify parses token and checks its signature and expiry.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, pkgerrors.NewAuthenticationError(pkgerrors.CodeTokenInvalid, "No authorization token was found", nil)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, pkgerrors.NewAuthenticationError(pkgerrors.CodeTokenExpired, "Token expired", err)
	default:
		return nil, pkgerrors.NewAuthenticationError(pkgerrors.CodeTokenInvalid, "Invalid token", err)
	}
}

// VerifySession is Verify plus the refresh deadline check performed when a
// long-lived session starts. A token past its refresh time is rejected with
// ERR_JWT_TOKEN_REFRESH_REQUIRED carrying the refresh deadline as exp.
func (a *Authenticator) VerifySession(token string) (*Claims, error) {
	claims, err := a.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.RTI != "" && claims.RefreshIn(a.now()) <= 0 {
		return nil, &pkgerrors.AuthenticationError{
			Code:    pkgerrors.CodeTokenRefreshRequired,
			Message: "Token refresh required",
			Exp:     claims.RefreshAt,
			RTI:     claims.RTI,
		}
	}
	return claims, nil
}

// Sign issues a token for claims.
func (a *Authenticator) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Now returns the authenticator's clock reading.
func (a *Authenticator) Now() time.Time {
	return a.now()
}

// TokenFromRequest extracts a token from the Authorization header, the
// session cookie or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

type contextKey struct{}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the claims stored in ctx.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Authorizer answers room authorization questions from a user's claims.
type Authorizer struct {
	claims *Claims
}

var _ rooms.Authorizer = Authorizer{}

// NewAuthorizer wraps claims.
func NewAuthorizer(claims *Claims) Authorizer {
	return Authorizer{claims: claims}
}

// IsAdmin implements rooms.Authorizer.
func (a Authorizer) IsAdmin(context.Context) (bool, error) {
	return a.claims.Admin, nil
}

// CanList implements rooms.Authorizer.
func (a Authorizer) CanList(_ context.Context, namespace string) (bool, error) {
	return a.claims.Admin || slices.Contains(a.claims.Namespaces, namespace), nil
}

// CanGet implements rooms.Authorizer.
func (a Authorizer) CanGet(ctx context.Context, namespace, _ string) (bool, error) {
	return a.CanList(ctx, namespace)
}

// Namespaces implements rooms.Authorizer.
func (a Authorizer) Namespaces(context.Context) ([]string, error) {
	return slices.Clone(a.claims.Namespaces), nil
}
