// Package logging wraps log/slog with plaindex field names.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"plaindex/pkg/common"
)

// Logger wraps slog.Logger with index-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler, or a text handler to stderr
// at info level when handler is nil.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

func NewJSON(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func NewText(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Noop discards everything.
func Noop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// FromConfig builds a stderr logger from a level name and a format
// ("text" or "json").
func FromConfig(level, format string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", "text":
		return NewText(os.Stderr, lvl), nil
	case "json":
		return NewJSON(os.Stderr, lvl), nil
	}
	return nil, fmt.Errorf("%w: unknown log format %q", common.ErrInvalidInput, format)
}

func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: unknown log level %q", common.ErrInvalidInput, s)
	}
	return lvl, nil
}

// WithIndex tags every record with the index name.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{Logger: l.Logger.With("index", name)}
}

// LogBuild logs a finished or failed segmentation.
func (l *Logger) LogBuild(ctx context.Context, keys int, epsilon uint32, segments int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"keys", keys,
			"epsilon", epsilon,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "build completed",
		"keys", keys,
		"epsilon", epsilon,
		"segments", segments,
		"elapsed", elapsed,
	)
}

// LogLoad logs reading a dataset or boundaries file.
func (l *Logger) LogLoad(ctx context.Context, path string, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"path", path,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "loaded",
		"path", path,
		"records", records,
	)
}

// LogSave logs writing a boundaries file or catalog entry.
func (l *Logger) LogSave(ctx context.Context, target string, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"target", target,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "saved",
		"target", target,
		"records", records,
	)
}

// LogQuery logs a single lookup at debug level.
func (l *Logger) LogQuery(ctx context.Context, op string, key common.KeyType, rank uint64, found bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "query failed",
			"op", op,
			"key", key,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query",
		"op", op,
		"key", key,
		"rank", rank,
		"found", found,
	)
}
