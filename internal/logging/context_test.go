package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", PassID(ctx))
	assert.Equal(t, "", Surface(ctx))
	assert.Equal(t, "", Place(ctx))

	ctx = WithIDs(ctx, "pass-1", "MainToolbar", "MainToolbar")

	assert.Equal(t, "pass-1", PassID(ctx))
	assert.Equal(t, "MainToolbar", Surface(ctx))
	assert.Equal(t, "MainToolbar", Place(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "pass-abc", "editor", "EditorPopup")
	LogWith(ctx, logger).Info("expanded")

	output := buf.String()
	assert.Contains(t, output, "pass_id=pass-abc")
	assert.Contains(t, output, "surface=editor")
	assert.Contains(t, output, "place=EditorPopup")
	assert.Contains(t, output, "expanded")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithPassID(context.Background(), "pass-only")
	LogWith(ctx, logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "pass_id=pass-only")
	assert.NotContains(t, output, "surface")
	assert.NotContains(t, output, "place=")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "pass-9", "nav", "NavBarToolbar")
	logger.WarnContext(ctx, "slow update", "node", "Git.Branches")

	output := buf.String()
	assert.Contains(t, output, "pass_id=pass-9")
	assert.Contains(t, output, "surface=nav")
	assert.Contains(t, output, "node=Git.Branches")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "engine").WithGroup("pass")

	logger.InfoContext(WithPassID(context.Background(), "p"), "done", "visible", 3)

	output := buf.String()
	assert.Contains(t, output, "component=engine")
	assert.Contains(t, output, "pass.visible=3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
