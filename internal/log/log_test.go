package log

import (
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" Warn ":  slog.LevelWarn,
		"error\n": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "trace", "fatal", "warning"} {
		_, err := ParseLevel(in)
		if err == nil {
			t.Fatalf("ParseLevel(%q) expected error", in)
		}
		if !strings.Contains(err.Error(), "debug|info|warn|error") {
			t.Fatalf("error should list valid levels: %v", err)
		}
	}
}

func TestNew_ReturnsLogger(t *testing.T) {
	l, err := New(Options{App: "tradedesk", Writer: &strings.Builder{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l == nil {
		t.Fatal("New returned nil logger")
	}
}
