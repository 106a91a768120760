// Package request provides request ID middleware. Every request gets a unique
// ID that flows through logs so a single request can be traced end to end.
package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"orgdesk/pkg/requestcontext"
)

const headerRequestID = "X-Request-ID"

// Middleware assigns a request ID to each request, honoring an inbound
// X-Request-ID header when present, and echoes it back on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
