package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"production", *ProductionConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedLoggerKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: DebugLevel, Format: JSONFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}

	log.WithComponent("loader").
		WithFields(Fields{"source": "payment.csv", "rows": 3}).
		WithError(errors.New("boom")).
		Info("loaded")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}

	if entry["component"] != "loader" {
		t.Errorf("expected component loader, got %v", entry["component"])
	}
	if entry["source"] != "payment.csv" {
		t.Errorf("expected source field, got %v", entry["source"])
	}
	if entry["rows"] != float64(3) {
		t.Errorf("expected rows 3, got %v", entry["rows"])
	}
	if entry["error"] != "boom" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
	if entry["msg"] != "loaded" {
		t.Errorf("expected msg loaded, got %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&Config{Level: WarnLevel, Format: TextFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line should be written")
	}
}

func TestStageTracker(t *testing.T) {
	var out bytes.Buffer
	tracker := NewStageTracker(StageConfig{
		Operation: "reconcile",
		Stages:    []string{"load", "normalize", "merge"},
		Logger:    Discard(),
		Output:    &out,
	})

	tracker.Begin("load")
	tracker.Done(10)
	tracker.Begin("normalize")
	tracker.Done(8)

	stats := tracker.GetStats()
	if stats.Current != 2 || stats.Total != 3 {
		t.Errorf("expected 2/3, got %d/%d", stats.Current, stats.Total)
	}
	if stats.Stage != "normalize" {
		t.Errorf("expected current stage normalize, got %s", stats.Stage)
	}
	if _, ok := stats.Timings["load"]; !ok {
		t.Error("expected timing for load stage")
	}

	want := "[1/3] load\n[2/3] normalize\n"
	if out.String() != want {
		t.Errorf("expected output %q, got %q", want, out.String())
	}
}

func TestTimedOperation(t *testing.T) {
	wantErr := errors.New("failed")
	if err := TimedOperation("store", Discard(), func() error { return wantErr }); err != wantErr {
		t.Errorf("expected error to pass through, got %v", err)
	}
	if err := TimedOperation("store", Discard(), func() error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
