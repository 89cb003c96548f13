package adminhttp

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/theme"
	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

var pageFiles = []string{
	"login.html",
	"dashboard.html",
	"docs.html",
	"doc_view.html",
	"error.html",
	"loading.html",
}

type renderer struct {
	pages map[string]*template.Template
}

// newRenderer parses each page together with layout.html.
func newRenderer(fsys fs.FS) (*renderer, error) {
	rd := &renderer{pages: make(map[string]*template.Template, len(pageFiles))}
	for _, name := range pageFiles {
		t, err := template.New(name).ParseFS(fsys, "layout.html", name)
		if err != nil {
			return nil, xerrors.Wrapf(err, "parse template %s", name)
		}
		rd.pages[name] = t
	}
	return rd, nil
}

// page is the data every template receives.
type page struct {
	Title string
	Theme *theme.Theme
	User  *backend.User
	CSRF  string
	From  string
	Error string
	Data  any

	// noCookies renders without issuing a CSRF cookie (loading page)
	noCookies bool
}

// render executes into a buffer first so a template error never leaves a
// half-written page behind.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	t, ok := s.pages.pages[name]
	if !ok {
		s.fail(w, r, xerrors.Newf("unknown template %s", name))
		return
	}
	p.Theme = s.opts.Theme.Theme()
	if p.User == nil {
		p.User, _ = authstate.UserFromContext(r.Context())
	}
	if p.CSRF == "" && !p.noCookies {
		p.CSRF = ensureCSRF(w, r, s.opts.SecureCookies)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		s.fail(w, r, xerrors.Wrapf(err, "render %s", name))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.FromContext(r.Context()).Error(r.Context(), err, "admin page failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, "error.html", page{Title: http.StatusText(status), Error: msg})
}
