package httpmw

import "net/http"

// MaxBody limits request body size. Requests exceeding the limit
// receive 413 Request Entity Too Large when the body is read.
// Bodyless methods pass through untouched.
func MaxBody(bytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				r.Body = http.MaxBytesReader(w, r.Body, bytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
