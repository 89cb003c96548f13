// Package log is the structured logger used across the server. Records are
// slog JSON or logfmt, carry the otel trace/span ids, render xerrors stacks
// and error links, and never contain session tokens or credentials.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel and above get a "stack" attr. Default error.
	StacktraceLevel slog.Level
	JsonFormat      bool

	IncludeErrorLinks bool
	MaxErrorLinks     int // default 8

	// RedactKeys adds attribute keys whose values are replaced before
	// writing, on top of the built-in credential keys.
	RedactKeys []string

	Writer io.Writer // default os.Stdout
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}

// nopLogger discards everything; the fallback for contexts without a logger.
type nopLogger struct{}

func (n nopLogger) With(...any) Logger { return n }
func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any) {}
func (nopLogger) Warn(context.Context, string, ...any) {}
func (nopLogger) Error(context.Context, error, string, ...any) {}
func (nopLogger) Sync() error { return nil }

func Nop() Logger { return nopLogger{} }
