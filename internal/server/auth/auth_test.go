package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/agentstation/livesync/pkg/errors"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("s3cret", WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return a
}

func claims(exp time.Duration) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "jane@example.org",
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
		},
		Namespaces: []string{"garden-foo"},
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	a := newAuth(t)

	token, err := a.Sign(claims(time.Hour))
	require.NoError(t, err)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.org", got.ID())
	assert.Equal(t, []string{"garden-foo"}, got.Namespaces)
}

func TestVerifyExpired(t *testing.T) {
	a := newAuth(t)
	token, err := a.Sign(claims(-time.Minute))
	require.NoError(t, err)

	_, err = a.Verify(token)
	var ae *pkgerrors.AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, pkgerrors.CodeTokenExpired, ae.Code)
}

func TestVerifyInvalid(t *testing.T) {
	a := newAuth(t)
	other, err := New("other", WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	token, err := other.Sign(claims(time.Hour))
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", token} {
		_, err := a.Verify(tok)
		var ae *pkgerrors.AuthenticationError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, pkgerrors.CodeTokenInvalid, ae.Code)
		assert.True(t, pkgerrors.IsUnauthorized(err))
	}
}

func TestVerifySessionRefresh(t *testing.T) {
	a := newAuth(t)

	c := claims(time.Hour)
	c.RTI = "rti-1"
	c.RefreshAt = now.Add(-time.Second).Unix()
	token, err := a.Sign(c)
	require.NoError(t, err)

	_, err = a.VerifySession(token)
	var ae *pkgerrors.AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, pkgerrors.CodeTokenRefreshRequired, ae.Code)
	assert.Equal(t, c.RefreshAt, ae.Exp)
	assert.Equal(t, "rti-1", ae.RTI)

	c.RefreshAt = now.Add(10 * time.Minute).Unix()
	token, err = a.Sign(c)
	require.NoError(t, err)
	got, err := a.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, got.RefreshIn(now))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "c"})
	assert.Equal(t, "c", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))
}

func TestAuthorizer(t *testing.T) {
	ctx := context.Background()
	user := NewAuthorizer(&Claims{Namespaces: []string{"garden-foo"}})

	ok, _ := user.CanList(ctx, "garden-foo")
	assert.True(t, ok)
	ok, _ = user.CanGet(ctx, "garden-bar", "x")
	assert.False(t, ok)
	admin, _ := user.IsAdmin(ctx)
	assert.False(t, admin)

	root := NewAuthorizer(&Claims{Admin: true})
	ok, _ = root.CanList(ctx, "anything")
	assert.True(t, ok)

	ctx = WithClaims(ctx, &Claims{Admin: true})
	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.True(t, got.Admin)
	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
