package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/pkg/errors"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func signed(t *testing.T, exp, refreshAt time.Time, rti string) Token {
	t.Helper()
	claims := tokenClaims{RTI: rti}
	claims.Subject = "alice"
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	if !refreshAt.IsZero() {
		claims.RefreshAt = refreshAt.Unix()
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	tok, err := ParseToken(raw)
	require.NoError(t, err)
	return tok
}

func TestParseToken(t *testing.T) {
	tok := signed(t, now.Add(time.Hour), now.Add(10*time.Minute), "r-1")
	assert.Equal(t, "alice", tok.Subject)
	assert.Equal(t, "r-1", tok.RTI)
	assert.True(t, tok.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.True(t, tok.RefreshAt.Equal(now.Add(10*time.Minute)))

	_, err := ParseToken("not-a-jwt")
	assert.True(t, errors.IsUnauthorized(err))
}

func TestTokenChecks(t *testing.T) {
	tok := signed(t, now.Add(time.Minute), now.Add(10*time.Second), "r-1")
	assert.False(t, tok.Expired(now, DefaultTolerance))
	assert.True(t, tok.Expired(now.Add(50*time.Second), DefaultTolerance))
	assert.True(t, tok.RefreshRequired(now, DefaultTolerance))
	assert.False(t, tok.RefreshRequired(now.Add(-time.Minute), DefaultTolerance))

	noRTI := signed(t, now.Add(time.Minute), now, "")
	assert.False(t, noRTI.RefreshRequired(now, DefaultTolerance))
	assert.True(t, Token{}.Expired(now, 0))
}

func TestEnsureValidTokenWithoutRefresh(t *testing.T) {
	tok := signed(t, now.Add(time.Hour), now.Add(time.Hour), "r-1")
	g := NewGuard(tok, RefresherFunc(func(context.Context, Token) (Token, error) {
		t.Fatal("unexpected refresh")
		return Token{}, nil
	}), WithClock(clock))

	raw, err := g.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok.Raw, raw)
}

func TestEnsureValidTokenErrors(t *testing.T) {
	g := NewGuard(Token{}, nil, WithClock(clock))
	_, err := g.EnsureValidToken(context.Background())
	assert.True(t, errors.IsNoUser(err))

	g = NewGuard(signed(t, now.Add(5*time.Second), time.Time{}, ""), nil, WithClock(clock))
	_, err = g.EnsureValidToken(context.Background())
	var ae *errors.AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, errors.CodeTokenExpired, ae.Code)
	assert.True(t, g.Expired())

	g = NewGuard(signed(t, now.Add(time.Hour), now, "r-1"), nil, WithClock(clock))
	_, err = g.EnsureValidToken(context.Background())
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, errors.CodeTokenRefreshRequired, ae.Code)
}

func TestEnsureValidTokenSingleRefresh(t *testing.T) {
	stale := signed(t, now.Add(time.Hour), now.Add(time.Second), "r-1")
	fresh := signed(t, now.Add(2*time.Hour), now.Add(time.Hour), "r-2")

	var calls atomic.Int32
	release := make(chan struct{})
	g := NewGuard(stale, RefresherFunc(func(_ context.Context, current Token) (Token, error) {
		calls.Add(1)
		assert.Equal(t, "r-1", current.RTI)
		<-release
		return fresh, nil
	}), WithClock(clock), WithLockName(t.Name()))

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = g.EnsureValidToken(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, fresh.Raw, results[i])
	}
	assert.Equal(t, "r-2", g.Token().RTI)
}

func TestGuardsSharingLockRecheckAfterLock(t *testing.T) {
	stale := signed(t, now.Add(time.Hour), now.Add(time.Second), "r-1")
	fresh := signed(t, now.Add(2*time.Hour), now.Add(time.Hour), "r-2")

	var calls atomic.Int32
	refresher := RefresherFunc(func(context.Context, Token) (Token, error) {
		calls.Add(1)
		return fresh, nil
	})
	a := NewGuard(stale, refresher, WithClock(clock), WithLockName(t.Name()))
	_, err := a.EnsureValidToken(context.Background())
	require.NoError(t, err)

	// a second guard already holding the fresh token never refreshes
	b := NewGuard(fresh, refresher, WithClock(clock), WithLockName(t.Name()))
	_, err = b.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshRejectsSkewedToken(t *testing.T) {
	stale := signed(t, now.Add(time.Hour), now.Add(time.Second), "r-1")
	g := NewGuard(stale, RefresherFunc(func(context.Context, Token) (Token, error) {
		return stale, nil
	}), WithClock(clock), WithLockName(t.Name()))

	_, err := g.EnsureValidToken(context.Background())
	assert.True(t, errors.IsClockSkew(err))
	assert.Equal(t, "r-1", g.Token().RTI)
}

func TestRefreshLockHonoursContext(t *testing.T) {
	release, err := locks.acquire(context.Background(), t.Name())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, t.Name())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequireRefresh(t *testing.T) {
	g := NewGuard(signed(t, now.Add(time.Hour), time.Time{}, ""), nil, WithClock(clock))
	g.RequireRefresh("r-9", now)
	tok := g.Token()
	assert.Equal(t, "r-9", tok.RTI)
	assert.True(t, tok.RefreshRequired(now, DefaultTolerance))
}

func TestBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, time.Second, b.Duration(0))
	assert.Equal(t, 2*time.Second, b.Duration(1))
	assert.Equal(t, 4*time.Second, b.Duration(2))
	assert.Equal(t, 8*time.Second, b.Duration(3))

	assert.Equal(t, 2*time.Second, b.WithJitter(2*time.Second, 0.5))
	assert.Equal(t, 2*time.Second-200*time.Millisecond, b.WithJitter(2*time.Second, 0.4))
	assert.Equal(t, 2*time.Second+400*time.Millisecond, b.WithJitter(2*time.Second, 0.8))
	assert.Equal(t, 5*time.Second, b.WithJitter(8*time.Second, 0.4))

	for attempt := range 12 {
		low := min(time.Duration(float64(b.Duration(attempt))*(1-b.Jitter)), b.Max)
		for range 50 {
			n := b.Next(attempt)
			assert.LessOrEqual(t, n, b.Max)
			assert.GreaterOrEqual(t, n, low)
		}
	}

	assert.False(t, b.Exhausted(10))
	assert.True(t, b.Exhausted(11))
	assert.False(t, Backoff{}.Exhausted(100))
}

func TestClassify(t *testing.T) {
	exp := func(d time.Duration) *int64 {
		v := now.Add(d).Unix()
		return &v
	}

	tests := []struct {
		name   string
		err    *errors.ConnectError
		action Action
		skew   bool
	}{
		{"refresh required, skewed clock", &errors.ConnectError{Code: errors.CodeTokenRefreshRequired, Exp: exp(time.Minute)}, SignOut, true},
		{"refresh required within tolerance", &errors.ConnectError{Code: errors.CodeTokenRefreshRequired, Exp: exp(3 * time.Second)}, Reconnect, false},
		{"refresh required in the past", &errors.ConnectError{Code: errors.CodeTokenRefreshRequired, Exp: exp(-time.Minute)}, Reconnect, false},
		{"refresh required without exp", &errors.ConnectError{Code: errors.CodeTokenRefreshRequired}, Reconnect, false},
		{"expired", &errors.ConnectError{Code: errors.CodeTokenExpired}, SignOut, false},
		{"other", &errors.ConnectError{Code: "ERR_SOCKET_MIDDLEWARE", StatusCode: 500}, Reconnect, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.err, now)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.skew, errors.IsClockSkew(d.Err))
			if tt.action == SignOut {
				assert.Error(t, d.Err)
			}
		})
	}
}

func TestHTTPRefresher(t *testing.T) {
	stale := signed(t, now.Add(time.Hour), now.Add(time.Second), "r-1")
	fresh := signed(t, now.Add(2*time.Hour), now.Add(time.Hour), "r-2")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.Header.Get("Authorization") != "Bearer "+stale.Raw {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"bad token"}`))
			return
		}
		var body refreshRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotZero(t, body.Timestamp)
		_ = json.NewEncoder(w).Encode(refreshResponse{Token: fresh.Raw})
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL)
	got, err := r.Refresh(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "r-2", got.RTI)

	_, err = r.Refresh(context.Background(), fresh)
	assert.True(t, errors.IsUnauthorized(err))
}
