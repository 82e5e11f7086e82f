//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"ai-analysis-gateway/internal/config"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("not a json line: %q (%v)", b, err)
	}
	return m
}

func TestNew_LevelAndRole(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false, "worker")

	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	m := decodeLine(t, buf.Bytes())
	if m["role"] != "worker" || m["message"] != "kept" {
		t.Errorf("unexpected line: %v", m)
	}
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LogConfig{Level: "loud"}, false, "gateway")
	l.Debug().Msg("dropped")
	l.Info().Msg("kept")
	if m := decodeLine(t, buf.Bytes()); m["message"] != "kept" {
		t.Errorf("unexpected line: %v", m)
	}
}

func TestWith_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, config.LogConfig{Level: "info"}, false, "gateway")

	ctx := WithSessID(WithJobID(WithTraceID(context.Background(), "t1"), "j1"), "s1")
	With(ctx, base).Info().Msg("x")

	m := decodeLine(t, buf.Bytes())
	if m["trace_id"] != "t1" || m["job_id"] != "j1" || m["session_id"] != "s1" {
		t.Errorf("missing context fields: %v", m)
	}
	if TraceIDFrom(ctx) != "t1" {
		t.Errorf("TraceIDFrom = %q", TraceIDFrom(ctx))
	}

	buf.Reset()
	With(context.Background(), base).Info().Msg("y")
	if m := decodeLine(t, buf.Bytes()); m["trace_id"] != nil {
		t.Errorf("unexpected trace id on a bare context: %v", m)
	}
}
