package opshttp

import (
	"net/http"

	"github.com/keithlinneman/tapcommand-web/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// AllowPublic disables the private network check. Only for local dev
	// where the ops port is published through docker.
	AllowPublic bool

	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to bump a counter
}
