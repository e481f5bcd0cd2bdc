package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// auditIPKey is the context key for the requestor's IP address.
	auditIPKey contextKey = "audit_ip"
	// auditKeyIDKey is the context key for the caller identifier.
	auditKeyIDKey contextKey = "audit_key_id"
)

// AuditMiddleware injects audit context (IP address, caller identifier)
// into the request context for downstream logging. The caller identifier
// is the resolved bearer identity's user id if AuthMiddleware ran first,
// else a truncated SHA-256 hash of the raw Authorization header so a
// caller is still distinguishable without exposing the token.
func AuditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Extract client IP
		ip := r.RemoteAddr
		ctx = context.WithValue(ctx, auditIPKey, ip)

		keyID := "dev-mode"
		if identity := IdentityFromCtx(ctx); identity != nil {
			keyID = identity.UserID
		} else if auth := r.Header.Get("Authorization"); auth != "" {
			hash := sha256.Sum256([]byte(auth))
			keyID = fmt.Sprintf("%x", hash[:4]) // First 8 hex chars
		}
		ctx = context.WithValue(ctx, auditKeyIDKey, keyID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuditIPFromCtx extracts the requestor IP from context.
// Returns "unknown" if not present.
func AuditIPFromCtx(ctx context.Context) string {
	if ip, ok := ctx.Value(auditIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

// AuditKeyIDFromCtx extracts the API key identifier from context.
// Returns "unknown" if not present.
func AuditKeyIDFromCtx(ctx context.Context) string {
	if keyID, ok := ctx.Value(auditKeyIDKey).(string); ok {
		return keyID
	}
	return "unknown"
}
