package main

import (
	"errors"
	"fmt"
)

// ErrUsage indicates the command line was malformed (missing config path,
// bad override syntax). The CLI prints usage and exits non-zero when it
// sees this.
var ErrUsage = errors.New("trainrig: usage error")

// ConfigError indicates a structurally valid configuration asked for
// something the runner does not know how to build, such as an unrecognized
// scheduler or algorithm name. It is distinct from ErrUsage: the command
// line was fine, the configuration content was not.
type ConfigError struct {
	Field string // dotted config path, e.g. "scheduler.name"
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("trainrig: invalid configuration: %s", e.Msg)
	}
	return fmt.Sprintf("trainrig: invalid configuration: %s: %s", e.Field, e.Msg)
}

// configErrorf builds a ConfigError for a config field.
func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// usageErrorf wraps ErrUsage with detail so callers can still match it
// with errors.Is.
func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}
