// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging is a thin structured-logging wrapper over
// github.com/charmbracelet/log, scoped per-component the way each
// subsystem of einatd (orchestrator, instance, address monitor,
// config loader) names itself in its log lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmlog's levels under einatd's own names so callers
// never import charmbracelet/log directly.
type Level int32

const (
	LevelDebug Level = Level(charmlog.DebugLevel)
	LevelInfo  Level = Level(charmlog.InfoLevel)
	LevelWarn  Level = Level(charmlog.WarnLevel)
	LevelError Level = Level(charmlog.ErrorLevel)
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
	Syslog SyslogConfig
}

// DefaultConfig returns Info-level, human-readable logging to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		JSON:   false,
		Syslog: DefaultSyslogConfig(),
	}
}

// Logger is a structured, component-scoped logger.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from cfg. If cfg.Syslog.Enabled, log output is
// additionally mirrored to the configured syslog sink; a dial failure
// there is logged to Output and otherwise ignored (logging must never
// block startup).
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			out = io.MultiWriter(out, w)
		} else {
			fmt.Fprintf(out, "logging: syslog output disabled: %v\n", err)
		}
	}

	opts := charmlog.Options{
		Level:           charmlog.Level(cfg.Level),
		ReportTimestamp: true,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	return &Logger{inner: charmlog.NewWithOptions(out, opts)}
}

// WithComponent returns a child logger tagging every line with
// component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With returns a child logger with additional key/value pairs bound
// to every subsequent line.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(DefaultConfig()))
}

// SetDefault replaces the package-level default logger used by the
// Info/Warn/Error/Debug package functions.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger.Load()
}

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
