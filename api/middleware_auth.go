package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/market"
)

// identityContextKey is a private type for the resolved bearer identity,
// kept separate from the audit context keys in middleware_audit.go.
type identityContextKey struct{}

// AuthMiddleware verifies the Authorization header against the auth
// collaborator and injects the resolved Identity into the request
// context. A nil verifier disables authentication (dev mode, matching
// the teacher's "no API key configured" idiom).
func AuthMiddleware(verifier market.AuthVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				log.Warn().Msg("no auth verifier configured - authentication disabled (dev mode only)")
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			identity, err := verifier.VerifyToken(r.Context(), header)
			if err != nil || identity == nil {
				log.Warn().
					Str("ip", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("unauthorized access attempt: invalid bearer token")
				writeError(w, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromCtx extracts the resolved Identity from context, if any.
func IdentityFromCtx(ctx context.Context) *market.Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*market.Identity)
	return identity
}
