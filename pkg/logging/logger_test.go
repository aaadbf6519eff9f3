package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerWithService(t *testing.T) {
	l := NewLoggerWithService("psyduck")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetLevel(InfoLevel)

	l.WithField("k", "v").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "psyduck" {
		t.Fatalf("expected service field psyduck, got %v", entry["service"])
	}
	if entry["k"] != "v" {
		t.Fatalf("expected custom field to survive, got %v", entry["k"])
	}
}

func TestServiceHookDoesNotOverrideExplicitField(t *testing.T) {
	l := NewLoggerWithService("psyduck")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetLevel(InfoLevel)

	l.WithField("service", "other").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["service"] != "other" {
		t.Fatalf("explicit service field should win, got %v", entry["service"])
	}
}
