package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCorrelationID_Length(t *testing.T) {
	id := NewCorrelationID()
	assert.Len(t, id, 8)
}

func TestNewCorrelationID_Unique(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for range 100 {
		ids[NewCorrelationID()] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestWithCorrelationID_Roundtrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc12345")
	id, ok := CorrelationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc12345", id)
}

func TestCorrelationID_Missing(t *testing.T) {
	id, ok := CorrelationID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestWithAttrs_SkipsEmptyStrings(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	_, ok := CorrelationID(ctx)
	assert.False(t, ok)
	assert.Empty(t, Attrs(ctx))
}

func TestWithAttrs_DoesNotMutateParent(t *testing.T) {
	parent := WithCorrelationID(context.Background(), "parent01")
	child := WithCapture(parent, "42", "1001")

	assert.Len(t, Attrs(parent), 1)
	assert.Len(t, Attrs(child), 3)
}

func TestContextHandler_AddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text")

	ctx := WithCapture(WithCorrelationID(context.Background(), "test1234"), "42", "1001")
	logger.InfoContext(ctx, "Capture started", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=test1234")
	assert.Contains(t, output, "capture_id=42")
	assert.Contains(t, output, "broadcaster_id=1001")
	assert.Contains(t, output, "key=value")
}

func TestContextHandler_NothingAddedWhenMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text")

	logger.InfoContext(context.Background(), "plain")

	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(&buf, "info", "json"), "capture")

	logger.Info("hello")

	assert.Contains(t, buf.String(), `"component":"capture"`)
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
