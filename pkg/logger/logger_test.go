package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		expected string
	}{
		{"DEBUG level", DEBUG, "DEBUG"},
		{"INFO level", INFO, "INFO"},
		{"WARN level", WARN, "WARN"},
		{"ERROR level", ERROR, "ERROR"},
		{"Unknown level", LogLevel(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.level.String()
			if result != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  LogLevel
		wantError bool
	}{
		{"Parse DEBUG", "DEBUG", DEBUG, false},
		{"Parse debug lowercase", "debug", DEBUG, false},
		{"Parse INFO", "INFO", INFO, false},
		{"Parse WARN", "WARN", WARN, false},
		{"Parse WARNING", "WARNING", WARN, false},
		{"Parse ERROR", "ERROR", ERROR, false},
		{"Parse invalid", "INVALID", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ParseLevel() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && result != tt.expected {
				t.Errorf("ParseLevel() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger := New()

	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.level != INFO {
		t.Errorf("Default level = %v, want %v", logger.level, INFO)
	}
	if logger.fields == nil {
		t.Error("Fields map not initialized")
	}
}

func TestLogger_WithFields(t *testing.T) {
	logger := New()

	newLogger := logger.WithFields("key1", "value1", "key2", 123, "key3", true)

	if newLogger == logger {
		t.Error("WithFields should return new logger instance")
	}

	if len(newLogger.fields) != 3 {
		t.Errorf("Expected 3 fields, got %d", len(newLogger.fields))
	}

	if newLogger.fields["key1"] != "value1" {
		t.Errorf("Field key1 = %v, want 'value1'", newLogger.fields["key1"])
	}

	// Odd number of arguments drops the trailing key
	oddLogger := logger.WithFields("key1", "value1", "key2")
	if len(oddLogger.fields) != 1 {
		t.Errorf("Expected 1 field with odd args, got %d", len(oddLogger.fields))
	}
}

func TestLogger_WithField(t *testing.T) {
	logger := New()
	newLogger := logger.WithField("job_id", "12345")

	if newLogger == logger {
		t.Error("WithField should return new logger instance")
	}

	if newLogger.fields["job_id"] != "12345" {
		t.Errorf("Field job_id = %v, want '12345'", newLogger.fields["job_id"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithConfig(Config{
		Level:  INFO,
		Output: &buf,
	})

	// DEBUG should not be logged when level is INFO
	buf.Reset()
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("DEBUG message logged when level is INFO")
	}

	buf.Reset()
	logger.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("INFO message not logged when level is INFO")
	}

	buf.Reset()
	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("WARN message not logged when level is INFO")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("ERROR message not logged when level is INFO")
	}
}

func TestLogger_FieldFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithConfig(Config{
		Level:  DEBUG,
		Output: &buf,
	})

	logger.WithField("owner", "acct-1").Info("quota reserved", "balance", 4)

	out := buf.String()
	if !strings.Contains(out, "owner=acct-1") {
		t.Errorf("Missing contextual field in output: %s", out)
	}
	if !strings.Contains(out, "balance=4") {
		t.Errorf("Missing call-site field in output: %s", out)
	}
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("Missing level marker in output: %s", out)
	}
}

func TestLogger_StringQuoting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithConfig(Config{
		Level:  DEBUG,
		Output: &buf,
	})

	logger.Info("status changed", "message", "install payload fetched")

	if !strings.Contains(buf.String(), `message="install payload fetched"`) {
		t.Errorf("Strings with spaces should be quoted: %s", buf.String())
	}
}
