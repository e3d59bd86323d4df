package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestParseFields(t *testing.T) {
	fields := parseFields("service=livesync, env = dev,broken")
	assert.Equal(t, map[string]string{"service": "livesync", "env": "dev"}, fields)
	assert.Empty(t, parseFields(""))
}

func TestNewLoggerFromConfigJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Output = "discard"
	cfg.Fields = map[string]string{"service": "livesync"}

	logger := NewLoggerFromConfig(cfg)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), &logger)
	ctx = WithResource(ctx, "issue")
	ctx = WithClient(ctx, "abc")
	FromContext(ctx).Info().Msg("hello")

	assert.Contains(t, buf.String(), `"resource":"issue"`)
	assert.Contains(t, buf.String(), `"client_id":"abc"`)
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, Default(), FromContext(context.Background()))
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger(t)
	tl.Info().Str("uid", "7").Msg("requeued")

	tl.AssertContains(t, "requeued")
	tl.AssertNotContains(t, "dropped")
	assert.Len(t, tl.Lines(), 1)
}

func TestOrNop(t *testing.T) {
	l := zerolog.New(nil)
	assert.Same(t, &l, OrNop(&l))
	assert.NotNil(t, OrNop(nil))
}
