package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsSilent(t *testing.T) {
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewText(&buf, "warn"))
	defer SetLogger(nil)

	Logger().Info("hidden")
	Logger().Warn("Coordinator: shown", "rank", 0)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "Coordinator: shown")
	assert.Contains(t, buf.String(), "rank=0")

	SetLogger(nil)
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
