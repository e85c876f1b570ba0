package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func newBufferLogger(level, format string) (*DefaultLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &DefaultLogger{
		level:  parseLevel(level),
		format: parseFormat(format),
		output: buf,
		mu:     &sync.Mutex{},
	}, buf
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("warn", "text")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("low-level messages must be filtered: %s", output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Errorf("warn and error must pass the filter: %s", output)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	logger, buf := newBufferLogger("info", "json")

	logger.Info("renewal finished", "fingerprint", "sha256:abc", "count", 3)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry.Level != "INFO" {
		t.Errorf("level: got %s", entry.Level)
	}
	if entry.Message != "renewal finished" {
		t.Errorf("message: got %s", entry.Message)
	}
	if entry.Fields["fingerprint"] != "sha256:abc" {
		t.Errorf("fields: got %v", entry.Fields)
	}
}

func TestLogger_Named(t *testing.T) {
	logger, buf := newBufferLogger("info", "json")

	logger.Named("renewal").Info("batch started")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Component != "renewal" {
		t.Errorf("component: got %s", entry.Component)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	logger, buf := newBufferLogger("info", "text")

	logger.Named("deploy").Warn("action failed", "type", "copy")

	output := buf.String()
	if !strings.Contains(output, "WARN") || !strings.Contains(output, "[deploy]") {
		t.Errorf("unexpected text output: %s", output)
	}
}

func TestParseLevel_Unknown(t *testing.T) {
	if parseLevel("chatty") != LevelInfo {
		t.Error("unknown level must default to info")
	}
}
