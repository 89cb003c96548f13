package adminhttp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/routeguard"
)

const (
	returnParam          = "from"
	defaultSessionMaxAge = 30 * 60
	// refresh tokens live 30 days on the backend
	refreshMaxAge = 30 * 24 * 60 * 60
)

func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	from := routeguard.ReturnTo(r, returnParam, "/")
	if st, _ := s.opts.Provider.State(r); authstate.Decide(st) == authstate.OutcomeRender {
		http.Redirect(w, r, from, http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", page{Title: "Sign in", From: from})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)
	from := routeguard.ReturnTo(r, returnParam, "/")

	if !validCSRF(r) {
		s.recordLogin("csrf")
		// fresh token so the re-rendered form can succeed
		s.render(w, r, http.StatusForbidden, "login.html", page{
			Title: "Sign in", From: from, CSRF: issueCSRF(w, s.opts.SecureCookies),
			Error: "Your sign-in form expired. Please try again.",
		})
		return
	}

	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		s.recordLogin("invalid")
		s.render(w, r, http.StatusBadRequest, "login.html", page{Title: "Sign in", From: from, Error: "Username and password are required."})
		return
	}

	tok, err := s.opts.Auth.Login(ctx, username, password)
	if err != nil {
		status, msg, result := loginFailure(err)
		s.recordLogin(result)
		if result == "error" {
			L.Error(ctx, err, "login backend call failed")
		} else {
			L.Info(ctx, "login rejected", "result", result)
		}
		s.render(w, r, status, "login.html", page{Title: "Sign in", From: from, Error: msg})
		return
	}

	s.opts.Sessions.Invalidate(ctx, s.opts.Sessions.Token(r))
	s.opts.Sessions.Invalidate(ctx, s.opts.Sessions.RefreshToken(r))
	s.opts.Sessions.Invalidate(ctx, tok.AccessToken)

	s.setSessionCookies(w, tok)
	issueCSRF(w, s.opts.SecureCookies)
	s.recordLogin("success")
	L.Info(ctx, "login succeeded")
	http.Redirect(w, r, from, http.StatusSeeOther)
}

// loginFailure maps a backend error to the response shown on the form.
func loginFailure(err error) (status int, msg, result string) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized, "Incorrect username or password.", "invalid"
	case errors.Is(err, backend.ErrForbidden):
		detail := "This account cannot sign in."
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			detail = apiErr.Detail
		}
		return http.StatusForbidden, detail, "forbidden"
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity:
		return http.StatusBadRequest, "Username and password are required.", "invalid"
	}
	return http.StatusBadGateway, "Sign-in is temporarily unavailable.", "error"
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !validCSRF(r) {
		s.renderError(w, r, http.StatusForbidden, "Sign-out could not be verified. Reload the page and try again.")
		return
	}
	if tok := s.opts.Sessions.Token(r); tok != "" {
		if err := s.opts.Auth.Logout(ctx, tok); err != nil {
			log.FromContext(ctx).Warn(ctx, "backend logout failed", "err", err.Error())
		}
		s.opts.Sessions.Invalidate(ctx, tok)
	}
	s.opts.Sessions.Invalidate(ctx, s.opts.Sessions.RefreshToken(r))
	s.clearSessionCookies(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// setSessionCookies stores tok's access token, and its refresh token when
// the backend sent one. Both are HttpOnly.
func (s *Server) setSessionCookies(w http.ResponseWriter, tok *backend.Token) {
	maxAge := tok.ExpiresIn
	if maxAge <= 0 {
		maxAge = defaultSessionMaxAge
	}
	http.SetCookie(w, s.sessionCookie(s.opts.Sessions.CookieName(), tok.AccessToken, maxAge))
	if tok.RefreshToken != "" {
		http.SetCookie(w, s.sessionCookie(s.opts.Sessions.RefreshCookieName(), tok.RefreshToken, refreshMaxAge))
	}
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, s.sessionCookie(s.opts.Sessions.CookieName(), "", -1))
	http.SetCookie(w, s.sessionCookie(s.opts.Sessions.RefreshCookieName(), "", -1))
}

func (s *Server) sessionCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// reissue replaces the session cookies when the boundary renewed the
// session while resolving the request.
func (s *Server) reissue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok, ok := authstate.RenewalFromContext(r.Context()); ok {
			s.setSessionCookies(w, tok)
			log.FromContext(r.Context()).Info(r.Context(), "session renewed from refresh cookie")
		}
		next.ServeHTTP(w, r)
	})
}
