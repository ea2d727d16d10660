package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}

	ctx = WithRunID(ctx, "fixture-7-1")
	if id := RunID(ctx); id != "fixture-7-1" {
		t.Errorf("expected 'fixture-7-1', got %q", id)
	}
}

func TestGenerateRunID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	id := GenerateRunID("btc-usd", ts)

	if !strings.HasPrefix(id, "btc-usd-") {
		t.Errorf("expected run id to start with 'btc-usd-', got %s", id)
	}
	if !strings.Contains(id, "123456789") {
		t.Errorf("expected run id to contain nanoseconds, got %s", id)
	}
}

func TestLogWithRun(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithRun(ctx); attrs != nil {
		t.Errorf("expected nil attrs without a run id, got %v", attrs)
	}

	ctx = WithRunID(ctx, "abc-123")
	attrs := LogWithRun(ctx)
	if len(attrs) != 1 {
		t.Fatalf("expected one attr, got %v", attrs)
	}
	if a, ok := attrs[0].(slog.Attr); !ok || a.Value.String() != "abc-123" {
		t.Errorf("unexpected attr %v", attrs[0])
	}
}
