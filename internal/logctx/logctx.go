// Package logctx carries a zerolog logger through context.Context.
//
// The HTTP middleware and the worker attach a logger enriched with request
// fields (request_id, repo, commit); the loader and comparer pick it up with
// FromContext so their lines carry the same fields.
//
//	ctx = logctx.WithStr(ctx, "commit", sha)
//	logctx.FromContext(ctx).Debug().Msg("loading report")
package logctx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

func initDefaultLogger() {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// DefaultLogger returns the process-wide logger used when a context carries
// none. It writes JSON to stderr.
func DefaultLogger() zerolog.Logger {
	initDefaultLogger()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. Call it from main
// before any goroutine logs.
func SetDefaultLogger(l zerolog.Logger) {
	initDefaultLogger()
	defaultLogger = l
}

// Init builds a logger for the given level name ("debug", "info", ...) and
// installs it as the default. When human is true a console writer is used.
func Init(level string, human bool) (zerolog.Logger, error) {
	logger, err := New(os.Stderr, level, human)
	if err != nil {
		return zerolog.Logger{}, err
	}
	SetDefaultLogger(logger)
	return logger, nil
}

// New creates a logger writing to w.
func New(w io.Writer, level string, human bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if human {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
// The result is a copy; level methods can be chained on it directly.
func FromContext(ctx context.Context) *zerolog.Logger {
	logger := DefaultLogger()
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			logger = l
		}
	}
	return &logger
}

// WithStr returns a context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt64 returns a context whose logger has the integer field added.
func WithInt64(ctx context.Context, key string, value int64) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int64(key, value).Logger())
}
