package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/pathutil"
	"github.com/keithlinneman/tapcommand-web/internal/query"
)

type docGroup struct {
	Category string
	Files    []backend.DocFile
}

type docsView struct {
	Loading bool
	Error   string
	Groups  []docGroup
}

type docView struct {
	Loading bool
	Error   string
	Doc     *backend.DocContent
}

// groupByCategory keeps the backend's ordering (category, then title).
func groupByCategory(files []backend.DocFile) []docGroup {
	var out []docGroup
	idx := map[string]int{}
	for _, f := range files {
		cat := f.Category
		if cat == "" {
			cat = "General"
		}
		i, ok := idx[cat]
		if !ok {
			i = len(out)
			idx[cat] = i
			out = append(out, docGroup{Category: cat})
		}
		out[i].Files = append(out[i].Files, f)
	}
	return out
}

// publicMessage is what a user sees for a failed query; transport details
// stay in the logs.
func publicMessage(err error) string {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, pathutil.ErrInvalidPath):
		return "Invalid file path"
	case errors.Is(err, backend.ErrNotFound):
		return "Documentation file not found"
	case errors.As(err, &apiErr) && apiErr.Status < 500 && apiErr.Detail != "":
		return apiErr.Detail
	}
	return "The documentation service is unavailable"
}

func failureStatus(err error) int {
	switch {
	case errors.Is(err, pathutil.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func (s *Server) renderWait(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.RenderWait)
}

func (s *Server) docsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.renderWait(r)
	defer cancel()
	res := s.opts.Docs.FetchFiles(ctx)

	v := docsView{Loading: res.IsLoading, Groups: groupByCategory(res.Data)}
	status := http.StatusOK
	if res.Err != nil {
		v.Error = publicMessage(res.Err)
		if !res.HasData() {
			status = failureStatus(res.Err)
		}
	}
	if res.IsLoading {
		w.Header().Set("Refresh", "2")
	}
	s.render(w, r, status, "docs.html", page{Title: "Documentation", Data: v})
}

// docPathParam returns the wildcard path, decoded once.
func docPathParam(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if dec, err := url.PathUnescape(p); err == nil {
			return dec
		}
	}
	return p
}

func (s *Server) docView(w http.ResponseWriter, r *http.Request) {
	p := docPathParam(r)
	if p == "" {
		http.Redirect(w, r, "/docs", http.StatusSeeOther)
		return
	}
	clean, err := pathutil.CleanDocPath(p)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, "Invalid file path")
		return
	}

	ctx, cancel := s.renderWait(r)
	defer cancel()
	res := s.opts.Docs.FetchContent(ctx, &clean)

	v := docView{Loading: res.IsLoading, Doc: res.Data}
	status := http.StatusOK
	if res.Err != nil {
		v.Error = publicMessage(res.Err)
		if !res.HasData() {
			status = failureStatus(res.Err)
		}
	}
	if res.IsLoading {
		w.Header().Set("Refresh", "2")
	}
	title := clean
	if res.Data != nil {
		title = res.Data.Filename
	}
	s.render(w, r, status, "doc_view.html", page{Title: title, Data: v})
}

// queryState hides internal error text from API clients.
func queryState[T any](res query.Result[T]) query.Result[T] {
	if res.Err != nil {
		res.Err = errors.New(publicMessage(res.Err))
	}
	return res
}

func (s *Server) apiFiles(w http.ResponseWriter, r *http.Request) {
	var res query.Result[[]backend.DocFile]
	if r.URL.Query().Has("wait") {
		ctx, cancel := s.renderWait(r)
		defer cancel()
		res = s.opts.Docs.FetchFiles(ctx)
	} else {
		res = s.opts.Docs.UseFiles()
	}
	writeJSON(w, r, http.StatusOK, queryState(res))
}

// apiContent serves the content query state. Without ?path= the query is
// disabled and the idle state is returned.
func (s *Server) apiContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var path *string
	if q.Has("path") {
		p, err := pathutil.CleanDocPath(q.Get("path"))
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, query.Result[*backend.DocContent]{
				Status: query.StatusError,
				Err:    errors.New(publicMessage(err)),
			})
			return
		}
		path = &p
	}

	var res query.Result[*backend.DocContent]
	if q.Has("wait") {
		ctx, cancel := s.renderWait(r)
		defer cancel()
		res = s.opts.Docs.FetchContent(ctx, path)
	} else {
		res = s.opts.Docs.UseContent(path)
	}
	writeJSON(w, r, http.StatusOK, queryState(res))
}

func (s *Server) apiRefresh(w http.ResponseWriter, r *http.Request) {
	if !validCSRF(r) {
		writeJSON(w, r, http.StatusForbidden, map[string]string{"error": "invalid csrf token"})
		return
	}
	n := s.opts.Docs.Refresh(r.Context())
	if !wantsJSON(r) {
		http.Redirect(w, r, "/docs", http.StatusSeeOther)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"invalidated": n})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") || r.Header.Get(csrfHeader) != ""
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "encode json response")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
