// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aviary components.
//
// Built on the standard library slog package with two extensions: optional
// file output alongside stderr, and installation as the process-wide slog
// default so library packages can log through plain slog calls.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "personad",
//	})
//	defer logger.Close()
//	logger.Info("starting", "addr", addr)
//
// When LogDir is set, a `{service}_{date}.log` JSON file is written in
// addition to stderr.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable, unexpected situations.
	LevelWarn

	// LevelError is for operation failures the process survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", or "ERROR".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// Level. Unknown or empty strings fall back to Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config configures Logger behavior. A zero-value Config writes Info+
// messages to stderr in text format.
type Config struct {
	// Level is the minimum level; lower messages are discarded.
	Level Level

	// LogDir enables file logging to the given directory (supports ~
	// expansion). Files are named "{Service}_{YYYY-MM-DD}.log" and are
	// always JSON.
	LogDir string

	// Service is attached to every entry as the "service" attribute and
	// names the log file. Default: "aviary".
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet disables stderr output (file-only logging for daemons).
	Quiet bool
}

// Logger wraps slog.Logger with file-output lifecycle management.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New creates a Logger with the given configuration.
//
// The returned Logger should be closed with Close() when file logging is
// enabled so the file handle is flushed and released.
func New(config Config) *Logger {
	if config.Service == "" {
		config.Service = "aviary"
	}
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{}
	if config.LogDir != "" {
		if file := openLogFile(config.LogDir, config.Service); file != nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger.
func Default() *Logger {
	return New(Config{})
}

// Debug logs at Debug level with slog-style key-value args.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level with slog-style key-value args.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level with slog-style key-value args.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level with slog-style key-value args.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child Logger carrying additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Install sets this logger as the process-wide slog default, so packages
// that log via plain slog calls share its destinations and level.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// openLogFile creates the log directory and opens today's log file.
// Failures degrade to stderr-only logging rather than erroring.
func openLogFile(dir, service string) *os.File {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return file
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
