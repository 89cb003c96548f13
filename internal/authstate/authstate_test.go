package authstate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/query"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Outcome
	}{
		{"loading wins over authenticated", State{Authenticated: true, Loading: true}, OutcomeLoading},
		{"loading unauthenticated", State{Loading: true}, OutcomeLoading},
		{"unauthenticated", State{}, OutcomeRedirect},
		{"authenticated", State{Authenticated: true}, OutcomeRender},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.state); got != tt.want {
				t.Fatalf("Decide(%+v) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomeLoading: "loading", OutcomeRedirect: "redirect", OutcomeRender: "render", Outcome(9): "unknown",
	} {
		if o.String() != want {
			t.Errorf("%d.String() = %q, want %q", o, o.String(), want)
		}
	}
}

func TestStaticProvider_AttachesUserOnlyWhenAuthenticated(t *testing.T) {
	u := &backend.User{Username: "admin"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, out := StaticProvider{Snapshot: State{Authenticated: true}, User: u}.State(r)
	if got, ok := UserFromContext(out.Context()); !ok || got != u {
		t.Fatal("authenticated static provider should attach the user")
	}

	_, out = StaticProvider{Snapshot: State{Loading: true}, User: u}.State(r)
	if _, ok := UserFromContext(out.Context()); ok {
		t.Fatal("user must not be attached while loading")
	}
}

var testSecret = []byte("test-secret-key-that-is-long-enough")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func accessToken(t *testing.T, exp time.Duration) string {
	return signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":  "admin",
		"type": "access",
		"exp":  time.Now().Add(exp).Unix(),
	})
}

func TestJWTVerifier(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid access token", accessToken(t, time.Hour), true},
		{"expired", accessToken(t, -time.Hour), false},
		{"refresh token", signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "admin", "type": "refresh", "exp": time.Now().Add(time.Hour).Unix(),
		}), false},
		{"no exp", signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "admin", "type": "access",
		}), false},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), jwt.MapClaims{
			"sub": "admin", "type": "access", "exp": time.Now().Add(time.Hour).Unix(),
		}), false},
		{"other hmac alg", signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{
			"sub": "admin", "type": "access", "exp": time.Now().Add(time.Hour).Unix(),
		}), false},
		{"malformed", "not.a.token", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.token)
			if tt.ok && err != nil {
				t.Fatalf("Verify = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(nil); err == nil {
		t.Fatal("empty secret should be rejected")
	}
}

type userFunc func(ctx context.Context, token string) (*backend.User, error)

func (f userFunc) CurrentUser(ctx context.Context, token string) (*backend.User, error) {
	return f(ctx, token)
}

func newProvider(t *testing.T, api UserAPI, verifier TokenVerifier) *SessionProvider {
	t.Helper()
	qc := query.New(query.Config{Retry: -1, ShouldRetry: backend.Retryable})
	t.Cleanup(qc.Close)
	return NewSessionProvider(SessionOptions{
		Queries:    qc,
		API:        api,
		Verifier:   verifier,
		WaitBudget: 200 * time.Millisecond,
	})
}

func requestWithSession(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/docs", nil)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	}
	return r
}

func TestSessionProvider_NoCookie(t *testing.T) {
	var calls atomic.Int32
	p := newProvider(t, userFunc(func(context.Context, string) (*backend.User, error) {
		calls.Add(1)
		return nil, nil
	}), nil)

	st, _ := p.State(requestWithSession(""))
	if st != (State{}) {
		t.Fatalf("state = %+v, want unauthenticated", st)
	}
	if calls.Load() != 0 {
		t.Fatal("no cookie should not reach the backend")
	}
}

func TestSessionProvider_VerifierRejectsBeforeBackend(t *testing.T) {
	var calls atomic.Int32
	v, _ := NewJWTVerifier(testSecret)
	p := newProvider(t, userFunc(func(context.Context, string) (*backend.User, error) {
		calls.Add(1)
		return &backend.User{IsActive: true}, nil
	}), v)

	st, _ := p.State(requestWithSession(accessToken(t, -time.Hour)))
	if st != (State{}) {
		t.Fatalf("state = %+v, want unauthenticated", st)
	}
	if calls.Load() != 0 {
		t.Fatal("rejected token should not reach the backend")
	}
}

func TestSessionProvider_ResolvesUser(t *testing.T) {
	tok := accessToken(t, time.Hour)
	var calls atomic.Int32
	v, _ := NewJWTVerifier(testSecret)
	p := newProvider(t, userFunc(func(_ context.Context, got string) (*backend.User, error) {
		calls.Add(1)
		if got != tok {
			return nil, &backend.APIError{Status: http.StatusUnauthorized}
		}
		return &backend.User{Username: "admin", IsActive: true}, nil
	}), v)

	for i := 0; i < 3; i++ {
		st, r := p.State(requestWithSession(tok))
		if st != (State{Authenticated: true}) {
			t.Fatalf("state = %+v, want authenticated", st)
		}
		u, ok := UserFromContext(r.Context())
		if !ok || u.Username != "admin" {
			t.Fatalf("user = %+v, %v", u, ok)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("CurrentUser called %d times, want 1 within StaleTime", calls.Load())
	}
}

func TestSessionProvider_Failures(t *testing.T) {
	tests := []struct {
		name string
		user *backend.User
		err  error
	}{
		{"unauthorized", nil, &backend.APIError{Status: http.StatusUnauthorized}},
		{"server error", nil, &backend.APIError{Status: http.StatusInternalServerError}},
		{"inactive user", &backend.User{Username: "old", IsActive: false}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t, userFunc(func(context.Context, string) (*backend.User, error) {
				return tt.user, tt.err
			}), nil)
			st, r := p.State(requestWithSession("opaque"))
			if st != (State{}) {
				t.Fatalf("state = %+v, want unauthenticated", st)
			}
			if _, ok := UserFromContext(r.Context()); ok {
				t.Fatal("no user expected")
			}
		})
	}
}

func TestSessionProvider_SlowBackendIsLoading(t *testing.T) {
	release := make(chan struct{})
	p := newProvider(t, userFunc(func(ctx context.Context, _ string) (*backend.User, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &backend.User{Username: "admin", IsActive: true}, nil
	}), nil)
	p.opts.WaitBudget = 20 * time.Millisecond

	st, _ := p.State(requestWithSession("slow"))
	if st != (State{Loading: true}) {
		t.Fatalf("state = %+v, want loading", st)
	}

	close(release)
	p.opts.WaitBudget = time.Second
	st, _ = p.State(requestWithSession("slow"))
	if st != (State{Authenticated: true}) {
		t.Fatalf("state after release = %+v, want authenticated", st)
	}
}

func TestSessionProvider_InvalidateForcesLookup(t *testing.T) {
	var calls atomic.Int32
	p := newProvider(t, userFunc(func(context.Context, string) (*backend.User, error) {
		calls.Add(1)
		return &backend.User{IsActive: true}, nil
	}), nil)

	p.State(requestWithSession("tok"))
	p.Invalidate(context.Background(), "tok")
	p.State(requestWithSession("tok"))

	if calls.Load() != 2 {
		t.Fatalf("CurrentUser called %d times, want 2", calls.Load())
	}
}

func TestUserKey_HidesToken(t *testing.T) {
	k := UserKey("secret-token")
	if k.Family() != "auth" {
		t.Fatalf("family = %q", k.Family())
	}
	if h := k.Hash(); len(h) == 0 || strings.Contains(h, "secret-token") {
		t.Fatalf("key %s leaks the token", h)
	}
}

type refreshFunc func(ctx context.Context, refreshToken string) (*backend.Token, error)

func (f refreshFunc) Refresh(ctx context.Context, refreshToken string) (*backend.Token, error) {
	return f(ctx, refreshToken)
}

func withRefresh(r *http.Request, refreshToken string) *http.Request {
	r.AddCookie(&http.Cookie{Name: DefaultRefreshCookieName, Value: refreshToken})
	return r
}

// renewingBackend accepts only fresh and rotates refresh-1 into fresh.
func renewingBackend(t *testing.T, fresh string) (*SessionProvider, *atomic.Int32) {
	t.Helper()
	var refreshes atomic.Int32
	p := newProvider(t, userFunc(func(_ context.Context, token string) (*backend.User, error) {
		if token != fresh {
			return nil, &backend.APIError{Op: "auth_me", Status: http.StatusUnauthorized}
		}
		return &backend.User{ID: 7, Username: "admin", IsActive: true}, nil
	}), nil)
	p.opts.Refresher = refreshFunc(func(_ context.Context, rt string) (*backend.Token, error) {
		refreshes.Add(1)
		if rt != "refresh-1" {
			return nil, &backend.APIError{Op: "auth_refresh", Status: http.StatusUnauthorized}
		}
		return &backend.Token{AccessToken: fresh, RefreshToken: "refresh-2", ExpiresIn: 1800}, nil
	})
	return p, &refreshes
}

func TestSessionProvider_RenewsFromRefreshCookie(t *testing.T) {
	expired := accessToken(t, -time.Hour)
	fresh := accessToken(t, time.Hour)

	tests := []struct {
		name     string
		req      *http.Request
		verifier bool
	}{
		{"session cookie gone", requestWithSession(""), false},
		{"backend rejects session", requestWithSession("revoked"), false},
		{"verifier sees expiry", requestWithSession(expired), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, refreshes := renewingBackend(t, fresh)
			if tt.verifier {
				p.opts.Verifier, _ = NewJWTVerifier(testSecret)
			}

			st, r := p.State(withRefresh(tt.req, "refresh-1"))
			if st != (State{Authenticated: true}) {
				t.Fatalf("state = %+v, want authenticated", st)
			}
			if u, ok := UserFromContext(r.Context()); !ok || u.ID != 7 {
				t.Fatalf("user = %+v, %v", u, ok)
			}
			tok, ok := RenewalFromContext(r.Context())
			if !ok || tok.AccessToken != fresh || tok.RefreshToken != "refresh-2" {
				t.Fatalf("renewal = %+v, %v", tok, ok)
			}
			if refreshes.Load() != 1 {
				t.Fatalf("Refresh called %d times", refreshes.Load())
			}
		})
	}
}

func TestSessionProvider_RenewalSharedAcrossRequests(t *testing.T) {
	p, refreshes := renewingBackend(t, "fresh")

	// requests racing the first renewal still carry the rotated-out token
	for i := 0; i < 3; i++ {
		st, r := p.State(withRefresh(requestWithSession(""), "refresh-1"))
		if st != (State{Authenticated: true}) {
			t.Fatalf("request %d: state = %+v", i, st)
		}
		if _, ok := RenewalFromContext(r.Context()); !ok {
			t.Fatalf("request %d: no renewal", i)
		}
	}
	if refreshes.Load() != 1 {
		t.Fatalf("Refresh called %d times, want 1", refreshes.Load())
	}
}

func TestSessionProvider_RenewalFailures(t *testing.T) {
	tests := []struct {
		name    string
		req     *http.Request
		refresh bool
	}{
		{"revoked refresh token", withRefresh(requestWithSession(""), "refresh-old"), true},
		{"no refresh cookie", requestWithSession("revoked"), true},
		{"no refresher configured", withRefresh(requestWithSession(""), "refresh-1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := renewingBackend(t, "fresh")
			if !tt.refresh {
				p.opts.Refresher = nil
			}
			st, r := p.State(tt.req)
			if st != (State{}) {
				t.Fatalf("state = %+v, want unauthenticated", st)
			}
			if _, ok := RenewalFromContext(r.Context()); ok {
				t.Fatal("no renewal expected")
			}
		})
	}
}

func TestSessionProvider_TamperedTokenIsNotRenewed(t *testing.T) {
	p, refreshes := renewingBackend(t, "fresh")
	p.opts.Verifier, _ = NewJWTVerifier(testSecret)

	forged := signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), jwt.MapClaims{
		"sub": "admin", "type": "access", "exp": time.Now().Add(time.Hour).Unix(),
	})
	st, _ := p.State(withRefresh(requestWithSession(forged), "refresh-1"))
	if st != (State{}) {
		t.Fatalf("state = %+v, want unauthenticated", st)
	}
	if refreshes.Load() != 0 {
		t.Fatal("only an expired session may be renewed")
	}
}

func TestJWTVerifier_ExpiredIsDistinct(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)
	err := v.Verify(accessToken(t, -time.Hour))
	if !errors.Is(err, ErrTokenExpired) || !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify = %v, want ErrTokenExpired", err)
	}
	if err := v.Verify("not.a.token"); errors.Is(err, ErrTokenExpired) {
		t.Fatal("malformed token reported as expired")
	}
}

func TestInvalidate_DropsRefreshLookup(t *testing.T) {
	p, refreshes := renewingBackend(t, "fresh")
	p.State(withRefresh(requestWithSession(""), "refresh-1"))
	p.Invalidate(context.Background(), "refresh-1")
	p.State(withRefresh(requestWithSession(""), "refresh-1"))
	if refreshes.Load() != 2 {
		t.Fatalf("Refresh called %d times, want 2", refreshes.Load())
	}
}
