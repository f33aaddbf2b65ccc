package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// RequestIDKey is the context key for the request ID.
	RequestIDKey contextKey = "request_id"

	principalSlotKey contextKey = "principal_slot"

	// maxClientRequestID bounds a caller-supplied X-Request-ID.
	maxClientRequestID = 128
)

// RequestID is an HTTP middleware that assigns a UUID v7 to each request. A
// client-supplied X-Request-ID is kept when it is not too long. The ID is set
// on both the response header and the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxClientRequestID {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context. Returns an empty
// string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// principalSlot lets Authenticate report the principal back up to Logger,
// which wraps it.
type principalSlot struct {
	principal *Principal
}

func withPrincipalSlot(ctx context.Context, slot *principalSlot) context.Context {
	return context.WithValue(ctx, principalSlotKey, slot)
}

func notePrincipal(ctx context.Context, p *Principal) {
	if slot, ok := ctx.Value(principalSlotKey).(*principalSlot); ok {
		slot.principal = p
	}
}
