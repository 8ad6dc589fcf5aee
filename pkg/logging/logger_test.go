package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("rotation admitted", RotationID("abc-123"), KeyID(2))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Level = %s, want INFO", entry.Level)
	}
	if entry.Message != "rotation admitted" {
		t.Errorf("Message = %s, want 'rotation admitted'", entry.Message)
	}
	if entry.Fields["rotation_id"] != "abc-123" {
		t.Errorf("rotation_id = %v, want abc-123", entry.Fields["rotation_id"])
	}
	if entry.Fields["key_id"] != float64(2) {
		t.Errorf("key_id = %v, want 2", entry.Fields["key_id"])
	}
}

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("should not appear")
	logger.Info("should not appear")
	logger.Warn("should appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Errorf("Got %d log lines, want 1", len(lines))
	}
}

func TestJSONLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	child := logger.With(Component("sweeper"))
	child.Info("checkpoint advanced", Uint64("cursor", 400))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry.Fields["component"] != "sweeper" {
		t.Errorf("component = %v, want sweeper", entry.Fields["component"])
	}
	if entry.Fields["cursor"] != float64(400) {
		t.Errorf("cursor = %v, want 400", entry.Fields["cursor"])
	}
}

func TestErrorField(t *testing.T) {
	f := Error(errors.New("boom"))
	if f.Key != "error" || f.Value != "boom" {
		t.Errorf("Error field = %+v", f)
	}

	f = Error(nil)
	if f.Value != nil {
		t.Errorf("Error(nil) value = %v, want nil", f.Value)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
