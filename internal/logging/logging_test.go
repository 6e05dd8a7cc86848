package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewJSONLoggerWritesArgs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("scan completed", logger.Args("scan_id", "abc", "findings", 2))
	out := buf.String()
	if !strings.Contains(out, "scan completed") || !strings.Contains(out, "abc") {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("error", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at error level, got %s", buf.String())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New("info", "xml", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
