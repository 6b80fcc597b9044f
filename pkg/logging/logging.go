// Package logging builds zerolog loggers from configuration. Output can go
// to the console, a file, or both.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects log level and outputs.
type Config struct {
	// Level is one of trace, debug, info, warn, error (default info).
	Level string `yaml:"level"`

	// Console enables human-readable console output.
	Console bool `yaml:"console"`

	// File, when set, appends JSON log lines to this path.
	File string `yaml:"file"`
}

// New builds a logger from config. With no outputs enabled the logger is
// disabled, which keeps library defaults silent.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		return zerolog.Nop(), nil
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Console returns a console logger at the given level, for examples and CLIs.
func Console(level string) zerolog.Logger {
	logger, err := New(Config{Level: level, Console: true})
	if err != nil {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return logger
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
