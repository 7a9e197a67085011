package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

type traceKey struct{}

// TraceID tags each request with a trace identifier so a print request
// can be followed from the serving route into the queue and worker
// logs. An identifier supplied by the caller is honored; otherwise one
// is minted. The identifier is echoed back in the response header.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(traceHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(traceHeader, id)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), id)))
	})
}

// WithTraceID returns a context carrying the given trace identifier.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// GetTraceID returns the trace identifier from the context, or ""
// when the request never passed through TraceID.
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey{}).(string); ok {
		return id
	}
	return ""
}
