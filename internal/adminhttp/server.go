// Package adminhttp serves the admin UI: login/logout, the dashboard, the
// documentation pages and their JSON query-state API.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/docs"
	"github.com/keithlinneman/tapcommand-web/internal/httpmw"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/routeguard"
	"github.com/keithlinneman/tapcommand-web/internal/theme"
	"github.com/keithlinneman/tapcommand-web/internal/webassets"
	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

// AuthAPI is the subset of *backend.Client used for sign-in.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*backend.Token, error)
	Logout(ctx context.Context, token string) error
}

// Metrics is satisfied by *metrics.ServerMetrics.
type Metrics interface {
	IncLogin(result string)
	IncBoundaryOutcome(outcome string)
}

type Options struct {
	Logger   log.Logger
	Auth     AuthAPI
	Sessions *authstate.SessionProvider
	// Provider gates the protected routes. Default: Sessions.
	Provider authstate.Provider
	Docs     *docs.Queries
	Theme    *theme.Manager
	// LoginLimit wraps POST /login, typically (*ratelimit.IPLimiter).Middleware.
	LoginLimit httpmw.Middleware
	// SecureCookies sets the Secure attribute; off only for local http.
	SecureCookies bool
	// RenderWait bounds how long a page waits on a documentation query that
	// has no data yet. Default 2s.
	RenderWait time.Duration
	Metrics    Metrics
}

type Server struct {
	opts   Options
	logger log.Logger
	pages  *renderer
}

func New(opts Options) (*Server, error) {
	if opts.Sessions == nil || opts.Auth == nil || opts.Docs == nil || opts.Theme == nil {
		return nil, xerrors.New("adminhttp: Auth, Sessions, Docs and Theme are required")
	}
	if opts.Provider == nil {
		opts.Provider = opts.Sessions
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.RenderWait <= 0 {
		opts.RenderWait = 2 * time.Second
	}
	pages, err := newRenderer(webassets.TemplatesFS())
	if err != nil {
		return nil, err
	}
	return &Server{opts: opts, logger: opts.Logger, pages: pages}, nil
}

// Routes registers every admin route on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/theme.css", s.opts.Theme.CSSHandler().ServeHTTP)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(webassets.StaticFS()))))

	r.Group(func(r chi.Router) {
		r.Use(httpmw.PrivateNoStore)

		r.With(httpmw.Scope("login")).Get("/login", s.loginForm)
		login := r.With(httpmw.Scope("login"))
		if s.opts.LoginLimit != nil {
			login = login.With(s.opts.LoginLimit)
		}
		login.Post("/login", s.login)
		r.With(httpmw.Scope("logout")).Post("/logout", s.logout)

		r.Group(func(r chi.Router) {
			r.Use(s.boundary(nil), s.reissue)

			r.With(httpmw.Scope("dashboard")).Get("/", s.dashboard)
			r.Route("/docs", func(r chi.Router) {
				r.Use(httpmw.Scope("docs"))
				r.Get("/", s.docsList)
				r.Get("/view/*", s.docView)
			})
		})

		// API callers get a pending query state and a 401, never HTML
		r.Route("/api/docs", func(r chi.Router) {
			r.Use(s.boundary(func(*http.Request) bool { return true }), s.reissue)
			r.Use(httpmw.Scope("docs_api"))
			r.Get("/files", s.apiFiles)
			r.Get("/content", s.apiContent)
			r.Post("/refresh", s.apiRefresh)
		})
	})
}

func (s *Server) boundary(asJSON func(*http.Request) bool) httpmw.Middleware {
	return routeguard.Boundary(routeguard.Options{
		Provider:  s.opts.Provider,
		Loading:   http.HandlerFunc(s.loading),
		Logger:    s.logger,
		OnOutcome: s.recordOutcome,
		JSON:      asJSON,
	})
}

func (s *Server) recordOutcome(o authstate.Outcome) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncBoundaryOutcome(o.String())
	}
}

func (s *Server) recordLogin(result string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncLogin(result)
	}
}

func (s *Server) loading(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "loading.html", page{Title: "Loading", noCookies: true})
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "dashboard.html", page{Title: "Dashboard"})
}
