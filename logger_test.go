package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestJSONLLogger checks metric and event records land as parseable JSON
// lines.
func TestJSONLLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	logger, err := NewJSONLLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	logger.LogMetrics(3, map[string]float64{"loss": 1.25, "lr": 0.001})
	logger.LogEvent("checkpoint", "path", "ckpt.bin")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad JSON line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["loss"] != 1.25 || records[0]["step"] != float64(3) {
		t.Errorf("metrics record: %v", records[0])
	}
	if records[1]["event"] != "checkpoint" || records[1]["path"] != "ckpt.bin" {
		t.Errorf("event record: %v", records[1])
	}
}

// TestBuildLoggersDispatch checks the factory, the default and the error
// path.
func TestBuildLoggersDispatch(t *testing.T) {
	dir := t.TempDir()

	logger, err := BuildLoggers([]LoggerConfig{
		{Name: "console"},
		{Name: "jsonl", Path: filepath.Join(dir, "m.jsonl")},
	}, "test-run")
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	ml, ok := logger.(*MultiLogger)
	if !ok {
		t.Fatalf("got %T, want *MultiLogger", logger)
	}
	if len(ml.loggers) != 2 {
		t.Errorf("got %d loggers, want 2", len(ml.loggers))
	}

	// Empty config falls back to the console.
	fallback, err := BuildLoggers(nil, "test-run")
	if err != nil {
		t.Fatal(err)
	}
	defer fallback.Close()

	_, err = BuildLoggers([]LoggerConfig{{Name: "wandb"}}, "test-run")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("unknown logger: expected ConfigError, got %v", err)
	}
}

// TestDetectRunEnvironment checks env readback defaults and overrides.
func TestDetectRunEnvironment(t *testing.T) {
	t.Setenv("RANK", "")
	t.Setenv("WORLD_SIZE", "")
	env := DetectRunEnvironment()
	if env.Rank != 0 || env.WorldSize != 1 {
		t.Errorf("defaults: rank %d world %d, want 0/1", env.Rank, env.WorldSize)
	}
	if env.NumCPU < 1 {
		t.Errorf("NumCPU = %d", env.NumCPU)
	}

	t.Setenv("RANK", "2")
	t.Setenv("WORLD_SIZE", "8")
	env = DetectRunEnvironment()
	if env.Rank != 2 || env.WorldSize != 8 {
		t.Errorf("readback: rank %d world %d, want 2/8", env.Rank, env.WorldSize)
	}
}
