package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHonorsLevel(t *testing.T) {
	log := New(slog.LevelWarn, true)
	require.NotNil(t, log)

	ctx := context.Background()
	assert.False(t, log.Enabled(ctx, slog.LevelInfo))
	assert.True(t, log.Enabled(ctx, slog.LevelWarn))
}

func TestDefaultIsInfoLevel(t *testing.T) {
	log := Default()
	require.NotNil(t, log)

	ctx := context.Background()
	assert.True(t, log.Enabled(ctx, slog.LevelInfo))
	assert.False(t, log.Enabled(ctx, slog.LevelDebug))
}

func TestWithNodeReturnsNewLogger(t *testing.T) {
	log := New(slog.LevelInfo, false)
	scoped := log.WithNode("node-1")

	require.NotNil(t, scoped)
	assert.NotSame(t, log, scoped)
	assert.NotSame(t, log.Logger, scoped.Logger)
}
