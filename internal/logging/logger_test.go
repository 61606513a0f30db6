package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestLoggerWithTags(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf, Pretty: false})

	deviceLogger := logger.With("device_id", 42)
	deviceLogger.Info("device ready")

	output := buf.String()
	if !strings.Contains(output, `"device_id":42`) {
		t.Errorf("expected device_id=42 in output, got: %s", output)
	}

	buf.Reset()
	runLogger := deviceLogger.With("run_id", "abc-123")
	runLogger.Info("chunk complete")
	output = buf.String()
	if !strings.Contains(output, `"device_id":42`) || !strings.Contains(output, `"run_id":"abc-123"`) {
		t.Errorf("expected both device_id and run_id in output, got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf, Pretty: false})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn level, got: %s", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message in output, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf, Pretty: false}))

	Info("info message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "info message") || !strings.Contains(output, `"key":"value"`) {
		t.Errorf("expected info message with key=value, got: %s", output)
	}
}
