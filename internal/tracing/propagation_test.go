package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithConversationID(ctx, "desk-7")

	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	logger := PropagateToLogger(ctx, base)
	logger.Info().Msg("test")

	out := buf.String()
	if !strings.Contains(out, "trace-123") {
		t.Error("trace_id not propagated to logger")
	}
	if !strings.Contains(out, "run-456") {
		t.Error("run_id not propagated to logger")
	}
	if !strings.Contains(out, "desk-7") {
		t.Error("conversation_id not propagated to logger")
	}
}

func TestPropagateToLoggerEmptyContext(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	logger := PropagateToLogger(context.Background(), base)
	logger.Info().Msg("test")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Error("trace_id should not appear for empty context")
	}
	if strings.Contains(out, "run_id") {
		t.Error("run_id should not appear for empty context")
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")

	buf := &bytes.Buffer{}
	logger := LoggerFromContext(ctx, zerolog.New(buf))
	logger.Info().Msg("test")

	if !strings.Contains(buf.String(), "trace-abc") {
		t.Error("LoggerFromContext did not carry trace ID")
	}
}
