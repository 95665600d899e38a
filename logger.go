package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// TrainLogger receives training metrics. Loggers are fanned out, so a run
// can log to the console and a metrics file at the same time.
type TrainLogger interface {
	// LogMetrics records one metrics snapshot at a step.
	LogMetrics(step int, metrics map[string]float64)

	// LogEvent records a one-off lifecycle message (run start, checkpoint
	// written, run end).
	LogEvent(msg string, keyvals ...any)

	Close() error
}

// ConsoleLogger writes human-readable metrics to the terminal.
type ConsoleLogger struct {
	logger *log.Logger
}

// NewConsoleLogger creates a console metrics logger.
func NewConsoleLogger(runName string) *ConsoleLogger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          runName,
	})
	return &ConsoleLogger{logger: logger}
}

// LogMetrics prints a metrics snapshot.
func (l *ConsoleLogger) LogMetrics(step int, metrics map[string]float64) {
	keyvals := []any{"step", step}
	for _, key := range metricOrder(metrics) {
		keyvals = append(keyvals, key, fmt.Sprintf("%.6g", metrics[key]))
	}
	l.logger.Info("train", keyvals...)
}

// LogEvent prints a lifecycle message.
func (l *ConsoleLogger) LogEvent(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

// Close is a no-op for the console.
func (l *ConsoleLogger) Close() error {
	return nil
}

// JSONLLogger appends one JSON object per metrics snapshot to a file, for
// machine consumption (plotting, run comparison).
type JSONLLogger struct {
	f   *os.File
	enc *json.Encoder
}

// NewJSONLLogger opens (or creates) the metrics file for appending.
func NewJSONLLogger(path string) (*JSONLLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file %s: %w", path, err)
	}
	return &JSONLLogger{f: f, enc: json.NewEncoder(f)}, nil
}

// LogMetrics appends a JSON line with the step, a timestamp and all
// metrics.
func (l *JSONLLogger) LogMetrics(step int, metrics map[string]float64) {
	record := map[string]any{
		"step": step,
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metrics {
		record[k] = v
	}
	// Encoding a map of scalars cannot fail; a write error here is not
	// worth aborting a training run over.
	_ = l.enc.Encode(record)
}

// LogEvent appends a JSON line with an event message.
func (l *JSONLLogger) LogEvent(msg string, keyvals ...any) {
	record := map[string]any{
		"event": msg,
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			record[key] = keyvals[i+1]
		}
	}
	_ = l.enc.Encode(record)
}

// Close flushes and closes the metrics file.
func (l *JSONLLogger) Close() error {
	return l.f.Close()
}

// MultiLogger fans metrics out to several loggers.
type MultiLogger struct {
	loggers []TrainLogger
}

// NewMultiLogger wraps a set of loggers.
func NewMultiLogger(loggers ...TrainLogger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// LogMetrics forwards to every logger.
func (m *MultiLogger) LogMetrics(step int, metrics map[string]float64) {
	for _, l := range m.loggers {
		l.LogMetrics(step, metrics)
	}
}

// LogEvent forwards to every logger.
func (m *MultiLogger) LogEvent(msg string, keyvals ...any) {
	for _, l := range m.loggers {
		l.LogEvent(msg, keyvals...)
	}
}

// Close closes every logger, returning the first error.
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildLoggers constructs every configured logger and fans them out.
func BuildLoggers(cfgs []LoggerConfig, runName string) (TrainLogger, error) {
	loggers := make([]TrainLogger, 0, len(cfgs))
	for _, lc := range cfgs {
		switch lc.Name {
		case "", "console":
			loggers = append(loggers, NewConsoleLogger(runName))
		case "jsonl":
			path := lc.Path
			if path == "" {
				path = runName + ".metrics.jsonl"
			}
			jl, err := NewJSONLLogger(path)
			if err != nil {
				return nil, err
			}
			loggers = append(loggers, jl)
		default:
			return nil, configErrorf("loggers", "not sure how to build logger: %q", lc.Name)
		}
	}
	if len(loggers) == 0 {
		loggers = append(loggers, NewConsoleLogger(runName))
	}
	return NewMultiLogger(loggers...), nil
}

// metricOrder returns metric keys in a stable order so console lines line
// up between steps.
func metricOrder(metrics map[string]float64) []string {
	preferred := []string{"loss", "val_loss", "lr", "grad_norm", "tokens_per_sec"}
	keys := make([]string, 0, len(metrics))
	seen := make(map[string]bool)
	for _, k := range preferred {
		if _, ok := metrics[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(metrics))
	for k := range metrics {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
