package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Info("plan accepted", "family_id", "f1")
	logger.Warn("weekly budget overspent", "family_id", "f1")

	out := buf.String()
	if strings.Contains(out, "plan accepted") {
		t.Error("info record must be filtered at warn level")
	}
	if !strings.Contains(out, "weekly budget overspent") || !strings.Contains(out, "family_id") {
		t.Errorf("warn record missing from output: %q", out)
	}
}
