package routeguard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/backend"
)

const childBody = "child"

func child(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		_, _ = w.Write([]byte(childBody))
	})
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestBoundary_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		state      authstate.State
		wantStatus int
		wantChild  bool
		wantLoc    string
	}{
		{"loading unauthenticated", authstate.State{Loading: true}, http.StatusOK, false, ""},
		{"loading authenticated", authstate.State{Loading: true, Authenticated: true}, http.StatusOK, false, ""},
		{"unauthenticated", authstate.State{}, http.StatusSeeOther, false, "/login?from=%2Fdocs%2Fview%2Fa.md%3Fx%3D1"},
		{"authenticated", authstate.State{Authenticated: true}, http.StatusOK, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []authstate.Outcome
			called := false
			h := Boundary(Options{
				Provider:  authstate.StaticProvider{Snapshot: tt.state},
				OnOutcome: func(o authstate.Outcome) { outcomes = append(outcomes, o) },
			})(child(&called))

			rec := serve(h, "/docs/view/a.md?x=1")

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantChild {
				t.Fatalf("child called = %v, want %v", called, tt.wantChild)
			}
			if got := rec.Header().Get("Location"); got != tt.wantLoc {
				t.Fatalf("Location = %q, want %q", got, tt.wantLoc)
			}
			if len(outcomes) != 1 || outcomes[0] != authstate.Decide(tt.state) {
				t.Fatalf("outcomes = %v", outcomes)
			}
		})
	}
}

func TestBoundary_LoadingPage(t *testing.T) {
	h := Boundary(Options{Provider: authstate.StaticProvider{Snapshot: authstate.State{Loading: true}}})(http.NotFoundHandler())
	rec := serve(h, "/")

	if rec.Header().Get("Refresh") != "1" {
		t.Errorf("Refresh = %q", rec.Header().Get("Refresh"))
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
	if !strings.Contains(rec.Body.String(), "Loading") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestBoundary_CustomLoadingAndLoginPath(t *testing.T) {
	loading := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("spinner"))
	})
	p := &switchProvider{state: authstate.State{Loading: true}}
	h := Boundary(Options{Provider: p, Loading: loading, LoginPath: "/signin", ReturnParam: "next"})(http.NotFoundHandler())

	if rec := serve(h, "/"); rec.Body.String() != "spinner" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	p.state = authstate.State{}
	rec := serve(h, "/docs")
	if loc := rec.Header().Get("Location"); loc != "/signin?next=%2Fdocs" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestBoundary_JSONOutcomes(t *testing.T) {
	loadingCalled := false
	p := &switchProvider{state: authstate.State{Loading: true}}
	h := Boundary(Options{
		Provider: p,
		Loading:  http.HandlerFunc(func(http.ResponseWriter, *http.Request) { loadingCalled = true }),
	})(http.NotFoundHandler())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/docs/files", nil)
		r.Header.Set("Accept", "application/json, text/plain")
		return r
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req())
	if rec.Code != http.StatusOK || rec.Header().Get("Retry-After") != "1" || rec.Header().Get("Refresh") != "" {
		t.Fatalf("loading: status %d Retry-After %q Refresh %q", rec.Code, rec.Header().Get("Retry-After"), rec.Header().Get("Refresh"))
	}
	if loadingCalled {
		t.Fatal("JSON callers must not get the loading page")
	}
	var pending struct {
		Data      any    `json:"data"`
		IsLoading bool   `json:"isLoading"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil || !pending.IsLoading || pending.Status != "pending" || pending.Data != nil {
		t.Fatalf("loading body = %q (%v)", rec.Body.String(), err)
	}

	p.state = authstate.State{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req())
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("Location") != "" {
		t.Fatalf("redirect: status %d Location %q", rec.Code, rec.Header().Get("Location"))
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
	var unauth unauthorizedBody
	if err := json.Unmarshal(rec.Body.Bytes(), &unauth); err != nil || unauth.Login != "/login?from=%2Fapi%2Fdocs%2Ffiles" {
		t.Fatalf("redirect body = %q (%v)", rec.Body.String(), err)
	}
}

func TestBoundary_JSONOverride(t *testing.T) {
	h := Boundary(Options{
		Provider: authstate.StaticProvider{},
		JSON:     func(*http.Request) bool { return true },
	})(http.NotFoundHandler())
	// no Accept header at all
	if rec := serve(h, "/api/x"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

type switchProvider struct{ state authstate.State }

func (p *switchProvider) State(r *http.Request) (authstate.State, *http.Request) { return p.state, r }

func TestBoundary_RenderPassesEnrichedRequestWithoutWrapper(t *testing.T) {
	u := &backend.User{Username: "admin"}
	var got *backend.User
	h := Boundary(Options{Provider: authstate.StaticProvider{Snapshot: authstate.State{Authenticated: true}, User: u}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = authstate.UserFromContext(r.Context())
			_, _ = w.Write([]byte(childBody))
		}))

	rec := serve(h, "/")
	if got != u {
		t.Fatal("nested handler should see the user")
	}
	if rec.Body.String() != childBody {
		t.Fatalf("body = %q, want exactly the child's output", rec.Body.String())
	}
}

func TestBoundary_RootRedirectCarriesNoState(t *testing.T) {
	h := Boundary(Options{Provider: authstate.StaticProvider{}})(http.NotFoundHandler())
	if loc := serve(h, "/").Header().Get("Location"); loc != "/login" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestBoundary_PanicsWithoutProvider(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Boundary(Options{})
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"/", true},
		{"/docs", true},
		{"/docs/view/a.md?x=1#top", true},
		{"", false},
		{"docs", false},
		{"//evil.example/x", false},
		{"/\\evil.example", false},
		{"https://evil.example", false},
		{"/\tdocs", false},
		{"/" + strings.Repeat("a", 3000), false},
	}
	for _, tt := range tests {
		if got := IsLocalPath(tt.in); got != tt.ok {
			t.Errorf("IsLocalPath(%q) = %v, want %v", tt.in, got, tt.ok)
		}
	}
}

func TestReturnTo(t *testing.T) {
	tests := []struct {
		name, query, want string
	}{
		{"local path", "/docs?x=1", "/docs?x=1"},
		{"missing", "", "/"},
		{"protocol relative", "//evil.example", "/"},
		{"absolute url", "https://evil.example/", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/login?"+url.Values{"from": {tt.query}}.Encode(), nil)
			if got := ReturnTo(r, "from", "/"); got != tt.want {
				t.Fatalf("ReturnTo = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReturnTo_FromPostForm(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("from=%2Fdocs"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if got := ReturnTo(r, "from", "/"); got != "/docs" {
		t.Fatalf("ReturnTo = %q", got)
	}
}
