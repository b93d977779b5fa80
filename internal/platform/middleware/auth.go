package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "attest/pkg/domain"
	"attest/pkg/requestcontext"
)

// Claims carries the identity the caller's token asserts. Authorization
// decisions happen upstream; this engine only needs to know who is acting.
type Claims struct {
	UserID string
}

// JWTValidator validates a bearer token and extracts its claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// RequireAuth guards admin routes. The survey-taking routes never use it;
// their access token is the sole credential there.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeAuthError(w, "missing bearer token")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized request",
					"error", err.Error(),
					"request_id", requestcontext.RequestID(r.Context()),
				)
				writeAuthError(w, "invalid token")
				return
			}
			actor, err := id.ParseUserID(claims.UserID)
			if err != nil {
				writeAuthError(w, "invalid token subject")
				return
			}
			ctx := requestcontext.WithActorID(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"unauthorized","message":"%s"}`, desc))
}
