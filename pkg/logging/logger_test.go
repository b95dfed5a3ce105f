package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLoggerJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := InitLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	NewComponentLogger(logger, "pipeline").Info("dropped")
	NewComponentLogger(logger, "pipeline").Warn("kept", slog.String("stream_id", "s1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above warn level, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["component"] != "pipeline" || rec["stream_id"] != "s1" || rec["msg"] != "kept" {
		t.Fatalf("unexpected record %v", rec)
	}
	if slog.Default() != logger {
		t.Fatalf("expected logger installed as default")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
