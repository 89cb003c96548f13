package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tapcommand-web/internal/health"
	"github.com/keithlinneman/tapcommand-web/internal/httpmw"
	"github.com/keithlinneman/tapcommand-web/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler

	// Health and Readiness are mounted at /healthz and /readyz for the
	// load balancer when set.
	Health    health.Probe
	Readiness health.Probe

	ClientIPOpts httpmw.ClientIPOptions
	Security     httpmw.SecurityOptions

	// MaxBodyBytes caps request bodies; 0 uses 64KiB.
	MaxBodyBytes int64

	// Routes registers the application routes on the root router.
	Routes func(chi.Router)

	// NotFound replaces chi's default 404 when set.
	NotFound http.Handler
}
