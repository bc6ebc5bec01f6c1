package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"WARNING", WarnLevel},
		{"warn", WarnLevel},
		{"Error", ErrorLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFieldConstructors(t *testing.T) {
	if f := Duration("elapsed", 1500*time.Millisecond); f.Value != "1.5s" {
		t.Errorf("Duration() = %+v", f)
	}
	if f := Error(errors.New("boom")); f.Key != "error" || f.Value != "boom" {
		t.Errorf("Error() = %+v", f)
	}
	if f := Error(nil); f.Value != nil {
		t.Errorf("Error(nil) = %+v", f)
	}
	if f := Source("network[3]"); f.Key != "source" || f.Value != "network[3]" {
		t.Errorf("Source() = %+v", f)
	}
	if f := Tick(-1); f.Key != "tick" || f.Value != -1 {
		t.Errorf("Tick() = %+v", f)
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to parse log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestZapLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: InfoLevel, Output: &buf})

	logger.Info("flush committed", Source("persons.csv"), Int("records", 500))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", e["level"])
	}
	if e["msg"] != "flush committed" {
		t.Errorf("msg = %v", e["msg"])
	}
	if e["source"] != "persons.csv" {
		t.Errorf("source = %v", e["source"])
	}
	if e["records"] != float64(500) {
		t.Errorf("records = %v", e["records"])
	}
	if _, ok := e["time"]; !ok {
		t.Error("Missing time key")
	}
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromCore(core, WarnLevel)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	if logs.Len() != 2 {
		t.Fatalf("Expected 2 entries at WARN and above, got %d", logs.Len())
	}

	logger.SetLevel(DebugLevel)
	if logger.GetLevel() != DebugLevel {
		t.Errorf("GetLevel() = %v, want DEBUG", logger.GetLevel())
	}
	logger.Debug("now visible")
	if logs.Len() != 3 {
		t.Errorf("Expected debug entry after SetLevel, got %d entries", logs.Len())
	}
}

func TestZapLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromCore(core, InfoLevel)

	child := logger.With(Component("edge-loader"), RunID("run-1"))
	child.Info("progress", Int("dropped", 3))

	all := logs.All()
	if len(all) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(all))
	}
	ctx := all[0].ContextMap()
	if ctx["component"] != "edge-loader" || ctx["run_id"] != "run-1" {
		t.Errorf("Child fields missing: %v", ctx)
	}
	if ctx["dropped"] != int64(3) {
		t.Errorf("dropped = %v (%T)", ctx["dropped"], ctx["dropped"])
	}

	// children share the parent's level
	logger.SetLevel(ErrorLevel)
	child.Info("suppressed")
	if logs.Len() != 1 {
		t.Error("Child should follow parent level changes")
	}
}

func TestZapLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contactgraph.log")
	var console bytes.Buffer
	logger := New(Options{Level: InfoLevel, Output: &console, File: path, MaxSizeMB: 1})

	logger.Warn("dropped edges", Int("dropped", 2))
	if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "sync") {
		t.Logf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "dropped edges") {
		t.Errorf("File sink missing entry: %s", data)
	}
	if !strings.Contains(console.String(), "dropped edges") {
		t.Error("Console sink missing entry")
	}
}

func TestTimedOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromCore(core, DebugLevel)

	timer := StartTimer(logger, "load_nodes", Operation("load_nodes"))
	timer.End(Count(10))

	timer = StartTimer(logger, "load_edges")
	timer.EndError(errors.New("connection refused"))

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(all))
	}
	if _, ok := all[0].ContextMap()["latency"]; !ok {
		t.Error("End() should add latency")
	}
	if all[0].ContextMap()["count"] != int64(10) {
		t.Errorf("End() extra field missing: %v", all[0].ContextMap())
	}
	if all[1].Level != zapcore.ErrorLevel {
		t.Errorf("EndError level = %v", all[1].Level)
	}
	if all[1].ContextMap()["error"] != "connection refused" {
		t.Errorf("EndError error field = %v", all[1].ContextMap()["error"])
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = NewNopLogger()
	l.Info("ignored", String("k", "v"))
	if l.With(String("a", "b")) == nil {
		t.Error("With() must return a logger")
	}
	if l.GetLevel() != InfoLevel {
		t.Errorf("GetLevel() = %v", l.GetLevel())
	}
}

func TestDefaultLogger(t *testing.T) {
	l1 := DefaultLogger()
	l2 := DefaultLogger()
	if l1 != l2 {
		t.Error("DefaultLogger() should return the same instance")
	}

	SetDefaultLogger(NewNopLogger())
	if _, ok := DefaultLogger().(NopLogger); !ok {
		t.Error("SetDefaultLogger() should replace the default")
	}
	SetDefaultLogger(l1)
}
