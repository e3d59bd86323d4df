// Package session keeps the credential of a live connection valid: it
// decodes tokens, refreshes them at most once at a time, computes reconnect
// delays and classifies the errors a server reports when it refuses a
// connection.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentstation/livesync/pkg/errors"
)

// Token is an access token together with the claims the client acts on.
// The signature is never verified client side.
type Token struct {
	Raw       string
	Subject   string
	ExpiresAt time.Time
	// RTI and RefreshAt are set when the server requires the token to be
	// refreshed before ExpiresAt.
	RTI       string
	RefreshAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	RTI       string `json:"rti,omitempty"`
	RefreshAt int64  `json:"refresh_at,omitempty"`
}

// ParseToken decodes raw without verifying its signature.
func ParseToken(raw string) (Token, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Token{}, errors.NewAuthenticationError(errors.CodeTokenInvalid, "Invalid token", err)
	}
	tok := Token{Raw: raw, Subject: claims.Subject, RTI: claims.RTI}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.RefreshAt != 0 {
		tok.RefreshAt = time.Unix(claims.RefreshAt, 0)
	}
	return tok, nil
}

// Empty reports whether there is no token at all.
func (t Token) Empty() bool {
	return t.Raw == ""
}

// Expired reports whether the token expires within tolerance of now. A
// token without exp counts as expired.
func (t Token) Expired(now time.Time, tolerance time.Duration) bool {
	return t.ExpiresAt.IsZero() || t.ExpiresAt.Sub(now) < tolerance
}

// RefreshRequired reports whether the refresh deadline is within tolerance
// of now.
func (t Token) RefreshRequired(now time.Time, tolerance time.Duration) bool {
	if t.RTI == "" || t.RefreshAt.IsZero() {
		return false
	}
	return t.RefreshAt.Sub(now) < tolerance
}
