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

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JSON = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "tradedesk", Version: "1.2.3"})
	l.Info(context.Background(), "started")

	m := lastRecord(t, &buf)
	if m["msg"] != "started" || m["app"] != "tradedesk" || m["version"] != "1.2.3" {
		t.Fatalf("unexpected record: %v", m)
	}
	src, ok := m["source"].(map[string]any)
	if !ok {
		t.Fatalf("missing source: %v", m)
	}
	if f, _ := src["file"].(string); !strings.HasSuffix(f, "slog_test.go") {
		t.Fatalf("source should point at caller, got %v", src["file"])
	}
}

func TestSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newSlog(Options{App: "tradedesk", Writer: &buf})
	l.Info(context.Background(), "hello", "symbol", "AAPL")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "symbol=AAPL") {
		t.Fatalf("text output = %q", out)
	}
}

func TestSlog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{Level: slog.LevelWarn})
	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("records below warn were written: %s", buf.String())
	}
	l.Warn(ctx, "w")
	if lastRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn record missing")
	}
}

func TestSlog_WithIsCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{})
	child := base.With("request_id", "abc", 42, "dropped", "odd")
	_ = base.With("other", "x")

	child.Info(context.Background(), "child")
	m := lastRecord(t, &buf)
	if m["request_id"] != "abc" {
		t.Fatalf("child attr missing: %v", m)
	}
	if _, ok := m["other"]; ok {
		t.Fatal("sibling attr leaked into child")
	}

	buf.Reset()
	base.Info(context.Background(), "base")
	if _, ok := lastRecord(t, &buf)["request_id"]; ok {
		t.Fatal("child attr leaked into parent")
	}
}

func TestSlog_ErrorEnrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{IncludeErrorLinks: true})
	root := errors.New("connection refused")
	err := xerrors.Wrap(fmt.Errorf("redis incr: %w", root), "rate limit check")

	l.Error(context.Background(), err, "store failure", "policy", "trading")
	m := lastRecord(t, &buf)

	if m["policy"] != "trading" {
		t.Fatalf("extra kv missing: %v", m)
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	if m["error_type"] != "*errors.errorString" {
		t.Fatalf("error_type should skip wrappers, got %v", m["error_type"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 3 {
		t.Fatalf("error_chain = %v", chain)
	}
	links, _ := m["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	first := links[0].(map[string]any)
	if fn, _ := first["func"].(string); !strings.Contains(fn, "TestSlog_ErrorEnrichment") {
		t.Fatalf("first link func = %v", first["func"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error level should carry a stack")
	}
}

func TestSlog_ErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})
	l.Error(context.Background(), nil, "nothing wrong")
	m := lastRecord(t, &buf)
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not add err: %v", m)
	}
}

func TestSlog_StackUsesErrorStack(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})
	err := xerrors.New("order book unavailable")
	l.Error(context.Background(), err, "failed")
	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "TestSlog_StackUsesErrorStack") {
		t.Fatalf("stack should start at error origin:\n%s", stack)
	}
	if strings.Contains(stack, "/internal/xerrors.") {
		t.Fatalf("stack should skip xerrors frames:\n%s", stack)
	}
}

func TestSlog_NoStackBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})
	l.Warn(context.Background(), "slow")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("warn should not carry a stack by default")
	}
}

func TestSlog_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("trace fields = %v/%v", m["trace_id"], m["span_id"])
	}

	buf.Reset()
	l.Info(context.Background(), "untraced")
	if _, ok := lastRecord(t, &buf)["trace_id"]; ok {
		t.Fatal("trace_id without span")
	}
}

func TestErrorChain_JoinedErrors(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	got := errorChain(err)
	if len(got) != 3 || got[1] != "a" || got[2] != "b" {
		t.Fatalf("errorChain = %q", got)
	}
}

func TestErrorLinks_RespectsMax(t *testing.T) {
	err := errors.New("root")
	for i := 0; i < 10; i++ {
		err = xerrors.Wrapf(err, "layer %d", i)
	}
	if got := errorLinks(err, 3); len(got) != 3 {
		t.Fatalf("len(errorLinks) = %d, want 3", len(got))
	}
}

func TestFrameAt_ZeroPC(t *testing.T) {
	if _, _, _, ok := frameAt(0); ok {
		t.Fatal("frameAt(0) should report !ok")
	}
}
