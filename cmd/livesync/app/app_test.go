package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/internal/config"
	"github.com/agentstation/livesync/internal/server"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New("1.2.3", "abc", "2024-01-01", "test",
		WithConfig(&config.Config{Server: server.DefaultConfig(), LogOutput: "discard"}))
	require.NoError(t, err)
	return a
}

func TestAppAccessors(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, "1.2.3", a.Version())
	assert.Equal(t, "abc", a.Commit())
	assert.Equal(t, "2024-01-01", a.Date())
	assert.Equal(t, "test", a.BuiltBy())
	assert.NotNil(t, a.Logger())
	assert.Equal(t, 8080, a.Config().Server.Port)
}

func TestVersionCommand(t *testing.T) {
	a := newTestApp(t)
	root := a.createRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "-v", "--log-level", "error"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "livesync 1.2.3")
	assert.Contains(t, out.String(), "commit:   abc")
	assert.Equal(t, "error", a.Config().LogLevel)
}

func TestConfigFlagReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\nlog:\n  output: discard\n"), 0o600))

	a := newTestApp(t)
	require.NoError(t, a.Execute(context.Background(), []string{"version", "--config", path}))
	assert.Equal(t, 9999, a.Config().Server.Port)

	err := a.Execute(context.Background(), []string{"version", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestShutdownRunsHooksInReverse(t *testing.T) {
	a := newTestApp(t)
	var order []int
	a.OnShutdown(func(context.Context) error { order = append(order, 1); return nil })
	a.OnShutdown(func(context.Context) error { order = append(order, 2); return errors.New("boom") })

	err := a.Shutdown(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []int{2, 1}, order)

	// hooks run once
	assert.NoError(t, a.Shutdown(context.Background()))
}
