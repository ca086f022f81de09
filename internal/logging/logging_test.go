package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestRunIDContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunID(ctx); got != "" {
		t.Errorf("run id on a bare context = %q, want empty", got)
	}

	ctx = WithRunID(ctx, "abc123")
	if got := RunID(ctx); got != "abc123" {
		t.Errorf("run id = %q", got)
	}
}

func TestGenerateRunID(t *testing.T) {
	a := GenerateRunID()
	b := GenerateRunID()
	if len(a) != 16 {
		t.Errorf("run id length = %d, want 16 hex chars", len(a))
	}
	if a == b {
		t.Error("consecutive run ids must differ")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
