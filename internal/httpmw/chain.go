package httpmw

import "net/http"

// Middleware is the chi/net/http middleware shape.
type Middleware = func(http.Handler) http.Handler

// Chain applies middlewares so that the first in the list is the outermost.
// nil entries are skipped so optional middleware can be passed inline.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
