package theme

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/tapcommand-web/internal/cryptoutil"
)

// Snapshot is one active theme with its rendered stylesheet.
type Snapshot struct {
	Theme    *Theme
	CSS      []byte
	ETag     string
	Source   string
	Version  string
	LoadedAt time.Time
}

// Manager holds the active theme; readers never block a swap.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

// NewManager starts with the embedded default.
func NewManager() *Manager {
	m := &Manager{}
	m.Set(Default(), "embedded", "")
	return m
}

// Set renders t and makes it active.
func (m *Manager) Set(t *Theme, source, version string) *Snapshot {
	css := t.CSS()
	s := &Snapshot{
		Theme:    t,
		CSS:      css,
		ETag:     `"` + cryptoutil.Fingerprint(string(css)) + `"`,
		Source:   source,
		Version:  version,
		LoadedAt: time.Now().UTC(),
	}
	m.active.Store(s)
	return s
}

func (m *Manager) Get() *Snapshot { return m.active.Load() }

func (m *Manager) Theme() *Theme { return m.active.Load().Theme }

// CSSHandler serves the active stylesheet with a strong ETag.
func (m *Manager) CSSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Get()
		h := w.Header()
		h.Set("ETag", s.ETag)
		h.Set("Cache-Control", "public, max-age=300")
		if match := r.Header.Get("If-None-Match"); match != "" && match == s.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		h.Set("Content-Type", "text/css; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(s.CSS)
	})
}
