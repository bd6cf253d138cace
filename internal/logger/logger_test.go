package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Output: &buf}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true by default")
	}
	if cfg.Output == nil {
		t.Error("Output should not be nil")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.WithComponent("crawler").
		WithJob("job-1").
		WithURL("https://example.com/a").
		WithError(errors.New("boom")).
		WithFields(map[string]interface{}{"attempt": 2}).
		Info("hello")

	entry := decodeLine(t, buf)
	want := map[string]interface{}{
		"component": "crawler",
		"job_id":    "job-1",
		"url":       "https://example.com/a",
		"error":     "boom",
		"message":   "hello",
		"level":     "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry["attempt"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WarnLevel)

	l.Debug("debug")
	l.Info("info")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("warn 2")
	if !strings.Contains(buf.String(), "warn 2") {
		t.Errorf("expected warn message, got %q", buf.String())
	}

	buf.Reset()
	l.Error("boom")
	if entry := decodeLine(t, buf); entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}

	debug, dbuf := newBufferLogger(DebugLevel)
	debug.WithComponent("crawler").Debug("now visible")
	if entry := decodeLine(t, dbuf); entry["message"] != "now visible" || entry["component"] != "crawler" {
		t.Errorf("unexpected debug entry: %v", entry)
	}
}

func TestLogger_PageEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.PageEvent(3, "https://example.com/3", 120, 40*time.Millisecond)

	entry := decodeLine(t, buf)
	if entry["page"] != float64(3) {
		t.Errorf("page = %v, want 3", entry["page"])
	}
	if entry["content_bytes"] != float64(120) {
		t.Errorf("content_bytes = %v, want 120", entry["content_bytes"])
	}
	if entry["message"] != "Page extracted" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLogger_FetchErrorEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.FetchErrorEvent(errors.New("timeout"), "https://example.com", 2, 3)

	entry := decodeLine(t, buf)
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
	if entry["consecutive_errors"] != float64(2) || entry["max_consecutive_errors"] != float64(3) {
		t.Errorf("unexpected counters: %v", entry)
	}
}

func TestLogger_StopEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.StopEvent("completed", "no-next-button", 3)

	entry := decodeLine(t, buf)
	if entry["reason"] != "no-next-button" || entry["state"] != "completed" {
		t.Errorf("unexpected stop entry: %v", entry)
	}
}

func TestLogger_StatsEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)

	l.StatsEvent(map[string]interface{}{"pages": 4})

	entry := decodeLine(t, buf)
	if entry["pages"] != float64(4) {
		t.Errorf("pages = %v, want 4", entry["pages"])
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("ignored")
	l.WithURL("x").Info("ignored")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: InfoLevel, Pretty: true, Output: &buf, Component: "cli"})
	l.Info("pretty line")

	out := buf.String()
	if !strings.Contains(out, "pretty line") {
		t.Errorf("expected message in console output, got %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected console format, got JSON: %q", out)
	}
}
