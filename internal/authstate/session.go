package authstate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/cryptoutil"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/query"
)

const (
	DefaultCookieName        = "tapcmd_session"
	DefaultRefreshCookieName = "tapcmd_refresh"
)

// UserAPI is the subset of *backend.Client used to resolve a session.
type UserAPI interface {
	CurrentUser(ctx context.Context, token string) (*backend.User, error)
}

// RefreshAPI renews an expired session. Satisfied by *backend.Client.
type RefreshAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*backend.Token, error)
}

// refreshReuse is how long a renewed pair is handed to requests that still
// carry the old refresh cookie. The backend revokes that token on first use.
const refreshReuse = time.Minute

type SessionOptions struct {
	CookieName        string
	RefreshCookieName string
	Queries           *query.Client
	API               UserAPI
	// Refresher is optional; without it an expired session just ends.
	Refresher RefreshAPI
	// Verifier is optional; without it every token goes to the backend.
	Verifier TokenVerifier
	// WaitBudget bounds how long State blocks on an unresolved session
	// before reporting Loading. Default 300ms.
	WaitBudget time.Duration
	// StaleTime is how long a resolved user is reused. Default 30s.
	StaleTime time.Duration
	Logger    log.Logger
}

// SessionProvider resolves the session cookie to a user via the backend's
// /me endpoint, cached per token on the query client.
type SessionProvider struct {
	opts SessionOptions
}

func NewSessionProvider(opts SessionOptions) *SessionProvider {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.RefreshCookieName == "" {
		opts.RefreshCookieName = DefaultRefreshCookieName
	}
	if opts.WaitBudget <= 0 {
		opts.WaitBudget = 300 * time.Millisecond
	}
	if opts.StaleTime <= 0 {
		opts.StaleTime = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &SessionProvider{opts: opts}
}

// UserKey is the query key for the user behind token. The token itself is
// never part of the key.
func UserKey(token string) query.Key {
	return query.Key{"auth", "me", cryptoutil.Fingerprint(token)}
}

// RefreshKey is the query key for renewing with refreshToken.
func RefreshKey(refreshToken string) query.Key {
	return query.Key{"auth", "refresh", cryptoutil.Fingerprint(refreshToken)}
}

func (p *SessionProvider) CookieName() string        { return p.opts.CookieName }
func (p *SessionProvider) RefreshCookieName() string { return p.opts.RefreshCookieName }

// Token returns the session token on r, or "".
func (p *SessionProvider) Token(r *http.Request) string {
	return cookieValue(r, p.opts.CookieName)
}

// RefreshToken returns the refresh token on r, or "".
func (p *SessionProvider) RefreshToken(r *http.Request) string {
	return cookieValue(r, p.opts.RefreshCookieName)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (p *SessionProvider) userOptions(token string) query.Options[*backend.User] {
	return query.Options[*backend.User]{
		Key:       UserKey(token),
		Enabled:   token != "",
		StaleTime: p.opts.StaleTime,
		Fn: func(ctx context.Context) (*backend.User, error) {
			return p.opts.API.CurrentUser(ctx, token)
		},
	}
}

func (p *SessionProvider) refreshOptions(refreshToken string) query.Options[*backend.Token] {
	return query.Options[*backend.Token]{
		Key:       RefreshKey(refreshToken),
		Enabled:   refreshToken != "" && p.opts.Refresher != nil,
		StaleTime: refreshReuse,
		Fn: func(ctx context.Context) (*backend.Token, error) {
			return p.opts.Refresher.Refresh(ctx, refreshToken)
		},
	}
}

// State resolves the session cookie. An access token that is missing,
// expired, or rejected by the backend is renewed from the refresh cookie
// before the request is called unauthenticated; the renewed pair rides on
// the returned request (see RenewalFromContext).
func (p *SessionProvider) State(r *http.Request) (State, *http.Request) {
	ctx := r.Context()
	token := p.Token(r)
	if token != "" && p.opts.Verifier != nil {
		if err := p.opts.Verifier.Verify(token); err != nil {
			p.opts.Logger.Debug(ctx, "session token rejected", "err", err.Error())
			if !errors.Is(err, ErrTokenExpired) {
				return State{}, r
			}
			token = ""
		}
	}

	wctx, cancel := context.WithTimeout(ctx, p.opts.WaitBudget)
	defer cancel()
	if token != "" {
		st, out, rejected := p.resolve(wctx, r, token)
		if !rejected {
			return st, out
		}
	}
	return p.renew(wctx, r)
}

// resolve looks up the user behind token. rejected reports a backend 401,
// which a refresh may still recover from.
func (p *SessionProvider) resolve(wctx context.Context, r *http.Request, token string) (st State, out *http.Request, rejected bool) {
	ctx := r.Context()
	res := query.Fetch(wctx, p.opts.Queries, p.userOptions(token))

	if res.Err != nil && errors.Is(res.Err, backend.ErrUnauthorized) {
		return State{}, r, true
	}
	if res.HasData() {
		u := res.Data
		if u == nil || !u.IsActive {
			return State{}, r, false
		}
		return State{Authenticated: true}, r.WithContext(WithUser(ctx, u)), false
	}
	if res.Status == query.StatusError {
		p.opts.Logger.Warn(ctx, "session lookup failed",
			"session_fp", cryptoutil.Fingerprint(token), "err", res.Err.Error())
		return State{}, r, false
	}
	return State{Loading: true}, r, false
}

func (p *SessionProvider) renew(wctx context.Context, r *http.Request) (State, *http.Request) {
	ctx := r.Context()
	rt := p.RefreshToken(r)
	res := query.Fetch(wctx, p.opts.Queries, p.refreshOptions(rt))

	switch {
	case res.Status == query.StatusIdle:
		return State{}, r
	case res.HasData() && res.Data != nil:
		tok := res.Data
		st, out, _ := p.resolve(wctx, r, tok.AccessToken)
		if st.Authenticated {
			p.opts.Logger.Debug(ctx, "session renewed", "refresh_fp", cryptoutil.Fingerprint(rt))
			out = out.WithContext(WithRenewal(out.Context(), tok))
		}
		return st, out
	case res.Status == query.StatusError:
		if !errors.Is(res.Err, backend.ErrUnauthorized) {
			p.opts.Logger.Warn(ctx, "session refresh failed",
				"refresh_fp", cryptoutil.Fingerprint(rt), "err", res.Err.Error())
		}
		return State{}, r
	}
	return State{Loading: true}, r
}

// Invalidate drops any cached lookup made with token, access or refresh,
// e.g. on login or logout.
func (p *SessionProvider) Invalidate(ctx context.Context, token string) {
	if token == "" {
		return
	}
	p.opts.Queries.Remove(UserKey(token))
	p.opts.Queries.Remove(RefreshKey(token))
	p.opts.Logger.Debug(ctx, "session cache dropped", "session_fp", cryptoutil.Fingerprint(token))
}
