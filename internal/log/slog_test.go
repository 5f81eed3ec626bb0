package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line written to buf
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestInfo_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Version: "1.2.3", Level: slog.LevelInfo})

	l.Info(context.Background(), "hello", "key", "10.0.0.1:anonymous")

	m := lastRecord(t, &buf)
	if m["msg"] != "hello" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["app"] != "gate" {
		t.Errorf("app = %v", m["app"])
	}
	if m["version"] != "1.2.3" {
		t.Errorf("version = %v", m["version"])
	}
	if m["key"] != "10.0.0.1:anonymous" {
		t.Errorf("key = %v", m["key"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelWarn})

	l.Debug(context.Background(), "debug")
	l.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %s", buf.String())
	}

	l.Warn(context.Background(), "warn")
	if !strings.Contains(buf.String(), `"msg":"warn"`) {
		t.Fatalf("warn not written: %s", buf.String())
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelInfo})
	child := parent.With("component", "ratelimit")

	child.Info(context.Background(), "child")
	if m := lastRecord(t, &buf); m["component"] != "ratelimit" {
		t.Fatalf("child component = %v", m["component"])
	}

	parent.Info(context.Background(), "parent")
	if m := lastRecord(t, &buf); m["component"] != nil {
		t.Fatalf("parent should not carry child attrs, got %v", m["component"])
	}
}

func TestWith_IgnoresNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelInfo})

	l.With(42, "x", "ok", "yes").Info(context.Background(), "m")
	if m := lastRecord(t, &buf); m["ok"] != "yes" {
		t.Fatalf("ok = %v", m["ok"])
	}
}

func TestError_ChainAndTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelInfo, IncludeErrorLinks: true})

	root := errors.New("connection refused")
	err := xerrors.Wrap(fmt.Errorf("dial redis: %w", root), "take key")
	l.Error(context.Background(), err, "store failed")

	m := lastRecord(t, &buf)
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) < 3 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if chain[len(chain)-1] != "connection refused" {
		t.Errorf("last chain entry = %v", chain[len(chain)-1])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Errorf("cause_type = %v", m["cause_type"])
	}
	if _, ok := m["error_links"]; !ok {
		t.Error("error_links missing")
	}
	if _, ok := m["stack"]; !ok {
		t.Error("stack missing at error level")
	}
}

func TestError_NoLinksWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelInfo})

	l.Error(context.Background(), errors.New("x"), "failed")
	if _, ok := lastRecord(t, &buf)["error_links"]; ok {
		t.Fatal("error_links should be omitted when disabled")
	}
}

func TestOtelHandler_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelInfo})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")

	m := lastRecord(t, &buf)
	if m["trace_id"] != tid.String() {
		t.Errorf("trace_id = %v", m["trace_id"])
	}
	if m["span_id"] != sid.String() {
		t.Errorf("span_id = %v", m["span_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" INFO ", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "gate", Level: slog.LevelInfo})

	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != Logger(l) {
		t.Fatal("FromContext should return the stored logger")
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	got := FromContext(context.Background())
	if _, ok := got.(nopLogger); !ok {
		t.Fatalf("FromContext without logger = %T, want nopLogger", got)
	}
	// must be safe to use
	got.With("a", 1).Error(context.Background(), errors.New("x"), "ignored")
}
