// Package logging configures the keeper's structured logging. Rather than
// a single JSON stream to stdout, the keeper fans the same JSON handler
// out across three rolling files (debug, info, error) under a logs/
// directory, mode 0600, each backed by gopkg.in/natefinch/lumberjack.v2.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Files are the three rolling sinks the logging layer writes to.
type Files struct {
	Debug *lumberjack.Logger
	Info  *lumberjack.Logger
	Error *lumberjack.Logger
}

// Close flushes and closes all three sinks.
func (f Files) Close() error {
	var firstErr error
	for _, l := range []*lumberjack.Logger{f.Debug, f.Info, f.Error} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenFiles opens (or creates) the three rolling log files under dir, each
// mode 0600, retaining up to 10 rotated 50MB backups.
func OpenFiles(dir string) (Files, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Files{}, err
	}
	newSink := func(name string) (*lumberjack.Logger, error) {
		path := filepath.Join(dir, name)
		if err := ensureMode(path); err != nil {
			return nil, err
		}
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		}, nil
	}
	debug, err := newSink("debug.log")
	if err != nil {
		return Files{}, err
	}
	info, err := newSink("info.log")
	if err != nil {
		return Files{}, err
	}
	errLog, err := newSink("error.log")
	if err != nil {
		return Files{}, err
	}
	return Files{Debug: debug, Info: info, Error: errLog}, nil
}

func ensureMode(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fanoutHandler writes every record to the debug sink, records at
// info-or-above to the info sink, and records at error-or-above to the
// error sink — a superset fan-out rather than mutually exclusive files, so
// grepping error.log never loses the surrounding context an operator needs.
type fanoutHandler struct {
	debug, info, error slog.Handler
}

func newFanoutHandler(files Files, minLevel slog.Level) slog.Handler {
	attrReplace := func(groups []string, attr slog.Attr) slog.Attr {
		switch attr.Key {
		case slog.TimeKey:
			return slog.Attr{Key: "timestamp", Value: attr.Value}
		case slog.LevelKey:
			return slog.String("severity", strings.ToUpper(attr.Value.String()))
		case slog.MessageKey:
			return slog.Attr{Key: "message", Value: attr.Value}
		}
		return attr
	}
	opts := func(level slog.Level) *slog.HandlerOptions {
		return &slog.HandlerOptions{Level: level, ReplaceAttr: attrReplace}
	}
	return &fanoutHandler{
		debug: slog.NewJSONHandler(files.Debug, opts(minLevel)),
		info:  slog.NewJSONHandler(files.Info, opts(slog.LevelInfo)),
		error: slog.NewJSONHandler(files.Error, opts(slog.LevelError)),
	}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.debug.Enabled(ctx, level)
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.debug.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= slog.LevelInfo {
		if err := h.info.Handle(ctx, r); err != nil {
			return err
		}
	}
	if r.Level >= slog.LevelError {
		if err := h.error.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{
		debug: h.debug.WithAttrs(attrs),
		info:  h.info.WithAttrs(attrs),
		error: h.error.WithAttrs(attrs),
	}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{
		debug: h.debug.WithGroup(name),
		info:  h.info.WithGroup(name),
		error: h.error.WithGroup(name),
	}
}

// Setup configures slog to emit structured JSON, fanned out across the
// three rolling log files, and returns the logger plus a closer. Every
// record carries a "service" field and, when set, "env".
func Setup(files Files, level, env string) (*slog.Logger, func() error) {
	handler := newFanoutHandler(files, parseLevel(level))
	attrs := []slog.Attr{slog.String("service", "keeperbot")}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	logger := slog.New(handler).With(attrsToArgs(attrs)...)
	slog.SetDefault(logger)
	return logger, files.Close
}

func attrsToArgs(attrs []slog.Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return args
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
