// Package routeguard gates nested routes on the authentication state.
//
// Per request the provider is asked once and the snapshot is mapped through
// authstate.Decide to exactly one of: a loading page, a redirect to the login
// page carrying the current location, or the nested handler.
package routeguard

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/httpmw"
	"github.com/keithlinneman/tapcommand-web/internal/log"
)

type Options struct {
	Provider authstate.Provider
	// LoginPath is the redirect target. Default "/login".
	LoginPath string
	// ReturnParam names the query parameter carrying the original location.
	// Default "from".
	ReturnParam string
	// Loading renders the loading indicator. Default: a minimal page.
	Loading http.Handler
	Logger  log.Logger
	// OnOutcome is called once per request, e.g. for metrics.
	OnOutcome func(authstate.Outcome)
	// JSON selects the API form of the loading and redirect outcomes: a
	// pending query-state body and a 401 instead of HTML and a 303.
	// Default WantsJSON.
	JSON func(*http.Request) bool
}

func (o *Options) defaults() {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.ReturnParam == "" {
		o.ReturnParam = "from"
	}
	if o.Loading == nil {
		o.Loading = http.HandlerFunc(defaultLoading)
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.JSON == nil {
		o.JSON = WantsJSON
	}
}

// Boundary wraps protected routes. It panics if no provider is set.
func Boundary(opts Options) httpmw.Middleware {
	if opts.Provider == nil {
		panic("routeguard: Options.Provider is required")
	}
	opts.defaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, enriched := opts.Provider.State(r)
			out := authstate.Decide(st)

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("app.auth_outcome", out.String()))
			if opts.OnOutcome != nil {
				opts.OnOutcome(out)
			}

			asJSON := opts.JSON(r)
			switch out {
			case authstate.OutcomeLoading:
				h := w.Header()
				h.Set("Cache-Control", "no-store")
				if asJSON {
					h.Set("Retry-After", "1")
					writeJSON(w, http.StatusOK, pendingBody)
					return
				}
				h.Set("Refresh", "1")
				opts.Loading.ServeHTTP(w, r)

			case authstate.OutcomeRedirect:
				loc := LoginURL(opts.LoginPath, opts.ReturnParam, r.URL.RequestURI())
				opts.Logger.Debug(r.Context(), "unauthenticated, redirecting to login", "path", r.URL.Path, "json", asJSON)
				w.Header().Set("Cache-Control", "no-store")
				if asJSON {
					writeJSON(w, http.StatusUnauthorized, unauthorizedBody{Error: "authentication required", Login: loc})
					return
				}
				http.Redirect(w, r, loc, http.StatusSeeOther)

			default:
				if u, ok := authstate.UserFromContext(enriched.Context()); ok {
					enriched = enriched.WithContext(log.With(enriched.Context(), "user_id", u.ID))
				}
				next.ServeHTTP(w, enriched)
			}
		})
	}
}

// pendingBody matches the query-state shape of a query with no data yet.
var pendingBody = map[string]any{"data": nil, "isLoading": true, "error": nil, "status": "pending"}

type unauthorizedBody struct {
	Error string `json:"error"`
	Login string `json:"login"`
}

// WantsJSON reports whether the client prefers JSON to HTML.
func WantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// LoginURL is loginPath with from carried in param. Locations that would
// not survive ReturnTo are dropped.
func LoginURL(loginPath, param, from string) string {
	if !IsLocalPath(from) || from == "/" {
		return loginPath
	}
	return loginPath + "?" + url.Values{param: {from}}.Encode()
}

// ReturnTo reads the carried location from r's query or form and returns it
// when it is a local path, otherwise fallback.
func ReturnTo(r *http.Request, param, fallback string) string {
	v := r.FormValue(param)
	if IsLocalPath(v) {
		return v
	}
	return fallback
}

// IsLocalPath accepts absolute paths on this host only: "/docs?x=1" but not
// "//evil.example", "/\\evil", "https://…" or anything with control bytes.
func IsLocalPath(p string) bool {
	if p == "" || p[0] != '/' || len(p) > 2048 {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.ContainsRune(p, '\\') {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] == 0x7f {
			return false
		}
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}

const loadingPage = `<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>Loading…</title>
<link rel="stylesheet" href="/theme.css"></head>
<body><main class="loading" role="status" aria-live="polite">Loading…</main></body></html>
`

func defaultLoading(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(loadingPage))
}
