package adminhttp

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/keithlinneman/tapcommand-web/internal/cryptoutil"
)

const (
	csrfCookie = "tapcmd_csrf"
	csrfField  = "csrf_token"
	csrfHeader = "X-CSRF-Token"
)

// ensureCSRF returns the request's CSRF token, issuing a new cookie when
// there is none. Double-submit: forms echo the cookie value back.
func ensureCSRF(w http.ResponseWriter, r *http.Request, secure bool) string {
	if c, err := r.Cookie(csrfCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return issueCSRF(w, secure)
}

func issueCSRF(w http.ResponseWriter, secure bool) string {
	tok := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return tok
}

// validCSRF compares the cookie with the form field or header.
func validCSRF(r *http.Request) bool {
	c, err := r.Cookie(csrfCookie)
	if err != nil {
		return false
	}
	sent := r.Header.Get(csrfHeader)
	if sent == "" {
		sent = r.PostFormValue(csrfField)
	}
	return cryptoutil.Equal(c.Value, sent)
}
