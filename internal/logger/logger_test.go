package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/tingold/bigeo/internal/logger"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.New(logger.Options{Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Debug("hidden")
	l.Info("dataset found", "path", "a.shp")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}
	if entry["msg"] != "dataset found" || entry["path"] != "a.shp" || entry["level"] != "INFO" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.New(logger.Options{Level: "debug", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Debug("feature written", "feature", 3)
	if !strings.Contains(buf.String(), "level=DEBUG") || !strings.Contains(buf.String(), "feature=3") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := logger.New(logger.Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := logger.New(logger.Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := logger.ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
