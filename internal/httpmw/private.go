package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PrivateNoStore marks responses that depend on the session cookie so
// shared caches never store them and browsers do not reuse them after logout.
func PrivateNoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store, private")
		h.Add("Vary", "Cookie")
		if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
			span.SetAttributes(attribute.Bool("app.session_scoped", true))
		}
		next.ServeHTTP(w, r)
	})
}
