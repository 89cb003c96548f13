package log

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const redacted = "[redacted]"

// credentialKeys are attr keys whose values are never written: session and
// refresh cookies, bearer headers, passwords and CSRF tokens.
var credentialKeys = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"password",
	"token",
	"session",
	"csrf",
	"jwt_secret",
}

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
	// links is the max error_links depth; 0 disables them
	links  int
	redact map[string]struct{}
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	h = stackHandler{next: otelHandler{next: h}, level: opts.StacktraceLevel}

	redact := make(map[string]struct{}, len(credentialKeys)+len(opts.RedactKeys))
	for _, keys := range [][]string{credentialKeys, opts.RedactKeys} {
		for _, k := range keys {
			redact[strings.ToLower(k)] = struct{}{}
		}
	}

	s := &slogLogger{h: h, redact: redact}
	if opts.IncludeErrorLinks {
		s.links = opts.MaxErrorLinks
	}
	meta := []any{"app", opts.App}
	for _, m := range [][2]string{{"version", opts.Version}, {"commit", opts.Commit}, {"build_id", opts.BuildId}} {
		// unstamped builds leave these empty or "none"
		if m[1] != "" && m[1] != "none" {
			meta = append(meta, m[0], m[1])
		}
	}
	s.attrs = s.toAttrs(meta)
	return s, nil
}

func (s *slogLogger) sensitive(key string) bool {
	k := strings.ToLower(key)
	if _, ok := s.redact[k]; ok {
		return true
	}
	return strings.HasSuffix(k, "_token") || strings.HasSuffix(k, "_secret") || strings.HasSuffix(k, "password")
}

// toAttrs pairs kv into attrs, dropping non-string keys and replacing
// credential values.
func (s *slogLogger) toAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		v := kv[i+1]
		if s.sensitive(k) {
			v = redacted
		} else if hdr, ok := v.(http.Header); ok {
			v = s.scrubHeader(hdr)
		}
		out = append(out, slog.Any(k, v))
	}
	return out
}

// scrubHeader copies hdr with Authorization, Cookie and Set-Cookie masked.
func (s *slogLogger) scrubHeader(hdr http.Header) http.Header {
	out := hdr.Clone()
	for k := range out {
		if s.sensitive(k) {
			out[k] = []string{redacted}
		}
	}
	return out
}

func (s *slogLogger) With(kv ...any) Logger {
	add := s.toAttrs(kv)
	next := make([]slog.Attr, 0, len(s.attrs)+len(add))
	next = append(next, s.attrs...)
	next = append(next, add...)
	return &slogLogger{h: s.h, attrs: next, links: s.links, redact: s.redact}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}
func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}
func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}
func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		surface, root := classifyTypes(err)
		kv = append(kv, "err", err, "error_type", surface, "cause_type", root)
		if chain := errorChain(err); len(chain) > 0 {
			kv = append(kv, "error_chain", chain)
		}
		if s.links > 0 {
			kv = append(kv, "error_links", chainLinks(err, s.links))
		}
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}
func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, emit and the level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(s.toAttrs(kv)...)
	_ = s.h.Handle(ctx, r)
}

// otelHandler adds trace_id and span_id from the active span.
type otelHandler struct{ next slog.Handler }

func (h otelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}
func (h otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}
func (h otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return otelHandler{next: h.next.WithAttrs(attrs)}
}
func (h otelHandler) WithGroup(name string) slog.Handler {
	return otelHandler{next: h.next.WithGroup(name)}
}

// stackHandler adds a "stack" attr at or above level: the err attr's
// captured stack when it has one, else the logging call site's.
type stackHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stackHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}
func (h stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		var pcs []uintptr
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "err" {
				return true
			}
			if hs, ok := a.Value.Any().(hasStack); ok && hs != nil {
				pcs = hs.StackPCs()
			}
			return false
		})
		if len(pcs) == 0 {
			pcs = make([]uintptr, 64)
			// skip runtime.Callers and Handle
			pcs = pcs[:runtime.Callers(2, pcs)]
		}
		r.AddAttrs(slog.String("stack", formatStack(pcs)))
	}
	return h.next.Handle(ctx, r)
}
func (h stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stackHandler{next: h.next.WithAttrs(attrs), level: h.level}
}
func (h stackHandler) WithGroup(name string) slog.Handler {
	return stackHandler{next: h.next.WithGroup(name), level: h.level}
}

// plumbing reports frames from the runtime, slog, this package or xerrors.
func plumbing(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// formatStack renders func/file:line pairs, starting at the first frame
// outside the plumbing and stopping at the runtime.
func formatStack(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && fr.Function != "" && !plumbing(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
