// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package logging provides structured logging for GC Chat services.
//
// Built on the standard library slog package with two small extensions:
// multi-destination output (stderr always, a log file optionally) and a
// service attribute stamped on every record so aggregated logs from several
// services stay attributable.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "chat"})
//	defer logger.Close()
//	slog.Info("starting", "port", 8080)
//
// New installs the logger as the slog default, so packages log through the
// package-level slog functions and never carry a logger dependency.
//
// # Security Considerations
//
// Nothing is redacted automatically. Message content, tokens and user
// identifiers other than the opaque user id must not be logged.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction. The zero value is usable: info level,
// JSON to stderr, no file.
type Config struct {
	// Level is the minimum severity, one of "debug", "info", "warn",
	// "error". Empty means info.
	Level string

	// Service is stamped on every record as the "service" attribute.
	Service string

	// LogDir, when set, adds a {service}_{date}.log JSON file in that
	// directory alongside stderr. The directory is created if missing.
	LogDir string

	// Text switches stderr output from JSON to the human-readable text
	// handler. The log file stays JSON either way.
	Text bool
}

// Logger owns the output destinations. Close flushes and closes the log
// file, if any.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// parseLevel maps a config string onto a slog level, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from config and installs it as the slog default.
//
// File opening failures degrade to stderr-only with a warning rather than
// failing startup: a service that cannot write its log file is still more
// useful running than crashed.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var stderrHandler slog.Handler
	if cfg.Text {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	handlers := []slog.Handler{stderrHandler}

	var file *os.File
	if cfg.LogDir != "" {
		f, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: falling back to stderr only: %v\n", err)
		} else {
			file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	slog.SetDefault(logger)

	return &Logger{slog: logger, file: file}
}

// Slog returns the underlying slog.Logger for callers that pass loggers
// explicitly.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file. Safe on a stderr-only logger.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// openLogFile creates the log directory if needed and opens (appending) the
// dated service log file.
func openLogFile(dir, service string) (*os.File, error) {
	if service == "" {
		service = "gcchat"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// multiHandler fans every record out to all destinations. A failing
// destination does not block the others; the first error is returned.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

var _ io.Closer = (*Logger)(nil)
