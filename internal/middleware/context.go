package middleware

import (
	"context"
	"net/http"

	"traitfusion-api/pkg/uid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey contextKey = "request_id"

	// CallerKey is the context key for the authenticated caller identity.
	CallerKey contextKey = "caller"
)

// RequestID is a middleware that adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uid.New()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCaller stores the caller identity in ctx.
func WithCaller(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, CallerKey, identity)
}

// GetCaller retrieves the caller identity, or "" for anonymous requests.
func GetCaller(ctx context.Context) string {
	if id, ok := ctx.Value(CallerKey).(string); ok {
		return id
	}
	return ""
}
