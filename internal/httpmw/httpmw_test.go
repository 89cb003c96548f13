package httpmw

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tapcommand-web/internal/log"
)

// spyLogger records Info and Error calls.
type spyLogger struct {
	log.Logger
	mu     sync.Mutex
	infos  []string
	errors []error
	kv     []any
}

func newSpy() *spyLogger { return &spyLogger{Logger: log.Nop()} }

func (s *spyLogger) With(kv ...any) log.Logger {
	s.mu.Lock()
	s.kv = append(s.kv, kv...)
	s.mu.Unlock()
	return s
}

func (s *spyLogger) Info(_ context.Context, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, msg)
	s.kv = append(s.kv, kv...)
}

func (s *spyLogger) Error(_ context.Context, err error, _ string, _ ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *spyLogger) value(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+1 < len(s.kv); i += 2 {
		if s.kv[i] == key {
			return s.kv[i+1]
		}
	}
	return nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler, mark("outer"), nil, mark("inner"))
	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "outer,inner" {
		t.Fatalf("order = %v", order)
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name  string
		panic any
	}{
		{"string", "boom"},
		{"error", errors.New("backend client nil")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpy()
			calls := 0
			h := Recover(spy, func() { calls++ })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(tt.panic)
			}))
			rec := serve(h, httptest.NewRequest(http.MethodGet, "/docs", nil))
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if len(spy.errors) != 1 || spy.errors[0] == nil {
				t.Fatalf("errors logged = %v", spy.errors)
			}
			if calls != 1 {
				t.Fatalf("onPanic calls = %d", calls)
			}
			if spy.value("url.path") != "/docs" {
				t.Fatalf("url.path = %v", spy.value("url.path"))
			}
		})
	}
}

func TestRecover_PassThroughAndAbort(t *testing.T) {
	spy := newSpy()
	rec := serve(Recover(spy, nil)(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || len(spy.errors) != 0 {
		t.Fatalf("normal flow altered: %d %v", rec.Code, spy.errors)
	}

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want ErrAbortHandler re-panicked", r)
		}
	}()
	serve(Recover(spy, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{"propagates sane id", "abc-123_x.y", true},
		{"mints when missing", "", false},
		{"rejects control bytes", "abc\ninjected", false},
		{"rejects oversized", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set("X-Request-Id", tt.inbound)
			}
			rec := serve(h, req)
			if seen == "" || rec.Header().Get("X-Request-Id") != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get("X-Request-Id"))
			}
			if (seen == tt.inbound) != tt.wantSame {
				t.Fatalf("id = %q, inbound %q, wantSame %v", seen, tt.inbound, tt.wantSame)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		hops   int
		want   string
	}{
		{"public peer ignores xff", "8.8.8.8:1", "1.2.3.4", 1, "8.8.8.8"},
		{"no hops ignores xff", "10.0.0.5:1", "1.2.3.4", 0, "10.0.0.5"},
		{"single alb rightmost", "10.0.0.5:1", "9.9.9.9, 1.2.3.4", 1, "1.2.3.4"},
		{"cdn plus alb", "10.0.0.5:1", "9.9.9.9, 1.2.3.4", 2, "9.9.9.9"},
		{"too few entries fails closed", "10.0.0.5:1", "1.2.3.4", 3, "10.0.0.5"},
		{"garbage entry", "10.0.0.5:1", "nope", 1, "10.0.0.5"},
		{"empty remote", "", "", 0, "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIPFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			serve(h, req)
			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := serve(SecurityHeaders(SecurityOptions{})(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
	rec = serve(SecurityHeaders(SecurityOptions{DisableHSTS: true})(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set with DisableHSTS")
	}
}

func TestPrivateNoStore(t *testing.T) {
	rec := serve(PrivateNoStore(okHandler), httptest.NewRequest(http.MethodGet, "/docs", nil))
	if got := rec.Header().Get("Cache-Control"); got != "no-store, private" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Cookie" {
		t.Fatalf("Vary = %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	serve(h, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("username=admin&password=x")))
	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("read err = %v, want MaxBytesError", readErr)
	}

	readErr = nil
	serve(h, httptest.NewRequest(http.MethodGet, "/", strings.NewReader("0123456789")))
	if readErr != nil {
		t.Fatalf("GET body limited: %v", readErr)
	}
}

func TestAccessLog(t *testing.T) {
	spy := newSpy()
	r := chi.NewRouter()
	r.Use(RequestID(""), WithLogger(spy), AccessLog())
	r.Get("/docs/view/*", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})
	r.Get("/healthz", okHandler)

	serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if len(spy.infos) != 0 {
		t.Fatalf("probe logged: %v", spy.infos)
	}

	serve(r, httptest.NewRequest(http.MethodGet, "/docs/view/intro.md", nil))
	if len(spy.infos) != 1 || spy.infos[0] != "http request" {
		t.Fatalf("infos = %v", spy.infos)
	}
	if got := spy.value("http.route"); got != "/docs/view/*" {
		t.Fatalf("http.route = %v", got)
	}
	if got := spy.value("http.response.body.size"); got != int64(5) {
		t.Fatalf("body size = %v", got)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	if got := schemeFromRequest(req); got != "https" {
		t.Fatalf("scheme = %q", got)
	}
	req.Header.Set("X-Forwarded-Proto", "gopher")
	if got := schemeFromRequest(req); got != "http" {
		t.Fatalf("bogus proto scheme = %q", got)
	}
}

func TestRoutePattern_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/unrouted", nil)
	if got := RoutePattern(req); got != "/unrouted" {
		t.Fatalf("RoutePattern = %q", got)
	}
}
