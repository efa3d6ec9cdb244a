package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/vjranagit/minigraph/internal/config"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range testCases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.input, tc.want, got)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3")

	logger.With("component", "engine").Info("update cycle completed", "fetched", 2)
	logger.Debug("filtered out")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	for key, want := range map[string]any{
		"service":   "minigraph",
		"version":   "1.2.3",
		"component": "engine",
		"msg":       "update cycle completed",
		"fetched":   float64(2),
	} {
		if entry[key] != want {
			t.Errorf("Expected %s=%v, got %v", key, want, entry[key])
		}
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "debug", Format: "text"}, "dev")
	logger.Debug("cache hit", "entity", "sensor.temp")

	if !strings.Contains(buf.String(), "entity=sensor.temp") || !strings.Contains(buf.String(), "level=DEBUG") {
		t.Errorf("Unexpected text output %q", buf.String())
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Expected default logger")
	}
}
