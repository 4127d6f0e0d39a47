package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"marinealarm/internal/config"
)

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := buildHandler(os.Stdout, cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("build console handler: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		handler, err := buildHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("build file handler: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	if len(handlers) == 0 {
		return nil, nil, fmt.Errorf("no log sinks enabled")
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(teeHandler{handlers: handlers}), closeFn, nil
}

// buildHandler creates one sink handler for a writer.
// Params: destination writer and sink settings.
// Returns: configured slog handler or error.
func buildHandler(writer io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	switch sink.Format {
	case "text":
		return slog.NewTextHandler(writer, options), nil
	case "json":
		return slog.NewJSONHandler(writer, options), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", sink.Format)
	}
}

// parseLevel converts level token into slog level.
// Params: debug/info/warn/error token.
// Returns: slog level or error for unknown token.
func parseLevel(token string) (slog.Level, error) {
	switch token {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", token)
	}
}

// teeHandler duplicates records into several handlers.
// Params: ordered handler list.
// Returns: composite slog handler.
type teeHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any handler accepts the level.
// Params: context and record level.
// Returns: true when one handler is enabled.
func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range t.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled handler.
// Params: context and log record.
// Returns: first handler error.
func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range t.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs forwards attributes to every handler.
// Params: attribute list.
// Returns: new composite handler.
func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, handler := range t.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return teeHandler{handlers: handlers}
}

// WithGroup forwards group name to every handler.
// Params: group name.
// Returns: new composite handler.
func (t teeHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, handler := range t.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return teeHandler{handlers: handlers}
}
