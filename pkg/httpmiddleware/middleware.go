// Package httpmiddleware provides the HTTP middleware chain: panic recovery,
// correlation ids, CORS, rate limiting, request logging, and OpenTelemetry
// instrumentation.
package httpmiddleware

import "net/http"

// Middleware transforms an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware in the list is the
// outermost one at request time.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
