package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tcases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tcases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"debug", "info", "warn", "warning", "error", ""} {
		if err := Validate(ok); err != nil {
			t.Errorf("Validate(%q): unexpected error: %v", ok, err)
		}
	}
	if err := Validate("loud"); err == nil {
		t.Errorf("Validate(loud): expected error")
	}
	if err := ValidateFormat("xml"); err == nil {
		t.Errorf("ValidateFormat(xml): expected error")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("ring target not connected", "to", "bob")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "ring target not connected" || rec["to"] != "bob" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	logger.Info("user joined", "user", "alice")
	if !strings.Contains(buf.String(), "user=alice") {
		t.Errorf("text output missing attribute: %q", buf.String())
	}
}

func TestSetupRejectsBadLevel(t *testing.T) {
	if err := Setup(Options{Level: "chatty"}); err == nil {
		t.Fatalf("Setup: expected error for unknown level")
	}
}
