// Package authstate derives the authentication state of a request and maps
// it to what a protected route should do.
//
// The state is owned by a Provider (the session cookie checked against the
// backend, or a fixed value in tests); Decide is a pure function of one
// snapshot of it.
package authstate

import (
	"context"
	"net/http"

	"github.com/keithlinneman/tapcommand-web/internal/backend"
)

// State is a snapshot of the authentication context.
type State struct {
	Authenticated bool
	// Loading is set while the session is still being resolved.
	Loading bool
}

type Outcome int

const (
	OutcomeLoading Outcome = iota
	OutcomeRedirect
	OutcomeRender
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoading:
		return "loading"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRender:
		return "render"
	}
	return "unknown"
}

// Decide maps s to an outcome. Loading takes priority over Authenticated.
func Decide(s State) Outcome {
	if s.Loading {
		return OutcomeLoading
	}
	if !s.Authenticated {
		return OutcomeRedirect
	}
	return OutcomeRender
}

// Provider resolves the state for r. The returned request carries the user
// when one is known.
type Provider interface {
	State(r *http.Request) (State, *http.Request)
}

// StaticProvider always reports Snapshot.
type StaticProvider struct {
	Snapshot State
	User     *backend.User
}

func (p StaticProvider) State(r *http.Request) (State, *http.Request) {
	if p.User != nil && p.Snapshot.Authenticated {
		r = r.WithContext(WithUser(r.Context(), p.User))
	}
	return p.Snapshot, r
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *backend.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func UserFromContext(ctx context.Context) (*backend.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*backend.User)
	return u, ok && u != nil
}

type renewalKey struct{}

// WithRenewal records that the session was renewed during this request.
func WithRenewal(ctx context.Context, tok *backend.Token) context.Context {
	return context.WithValue(ctx, renewalKey{}, tok)
}

// RenewalFromContext returns the token pair issued while resolving the
// request. The caller owns replacing the client's cookies with it.
func RenewalFromContext(ctx context.Context) (*backend.Token, bool) {
	tok, ok := ctx.Value(renewalKey{}).(*backend.Token)
	return tok, ok && tok != nil
}
