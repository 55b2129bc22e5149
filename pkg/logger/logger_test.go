package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log, err := NewLogger(&Config{Level: level, Format: JSONFormat, Output: StderrOutput, Writer: buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log, buf
}

func TestFieldsAccumulate(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.WithComponent("committer").
		WithField("batch_id", "ABC1234-STMT-20240630").
		WithError(errors.New("boom")).
		Info("committed")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "committer" {
		t.Errorf("expected component field, got %v", line["component"])
	}
	if line["batch_id"] != "ABC1234-STMT-20240630" {
		t.Errorf("expected batch_id field, got %v", line["batch_id"])
	}
	if line["error"] != "boom" {
		t.Errorf("expected error field, got %v", line["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("expected info line to be filtered")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected warn line to be written")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"production", *ProductionConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestProgressTracker(t *testing.T) {
	log, buf := newBufferLogger(t, DebugLevel)

	tracker := NewProgressTracker(ProgressConfig{Operation: "import", Total: 3, Logger: log})
	tracker.Increment()
	tracker.Increment()
	tracker.Fail()
	tracker.Complete()

	stats := tracker.GetStats()
	if stats.Current != 3 || stats.Failed != 1 {
		t.Errorf("expected 3 processed and 1 failed, got %d and %d", stats.Current, stats.Failed)
	}
	if stats.Percentage != 100 {
		t.Errorf("expected 100%%, got %.1f", stats.Percentage)
	}
	if !strings.Contains(buf.String(), "Operation completed with failures") {
		t.Errorf("expected failure completion line, got %q", buf.String())
	}
}

func TestTimedOperation(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	err := TimedOperation("void", log, func() error { return errors.New("no such batch") })
	if err == nil || err.Error() != "no such batch" {
		t.Errorf("expected error to be returned, got %v", err)
	}
	if !strings.Contains(buf.String(), `"status":"error"`) {
		t.Errorf("expected error status in log, got %q", buf.String())
	}
}
