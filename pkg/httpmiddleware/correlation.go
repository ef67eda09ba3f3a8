package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type correlationIDKey struct{}

// CorrelationIDFromContext extracts the correlation id from the context, or
// returns an empty string.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CorrelationID returns a middleware that ensures every request carries a
// correlation id. A valid incoming X-Correlation-ID header is reused,
// otherwise a new UUID is generated. The id is echoed on the response,
// stored in the request context, and attached to the context logger so every
// log line of the request carries it.
func CorrelationID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Correlation-ID")
			if !isValidCorrelationID(id) {
				id = uuid.New().String()
			}

			w.Header().Set("X-Correlation-ID", id)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
			ctx = zctx.With(ctx, zap.String("correlation_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isValidCorrelationID accepts non-empty printable-ASCII values up to 128
// bytes; anything else is replaced to keep logs and headers clean.
func isValidCorrelationID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for i := range len(id) {
		if id[i] < 0x20 || id[i] > 0x7E {
			return false
		}
	}
	return true
}
