package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"genproxy/internal/domain"
)

type clientKey string

const clientIDKey clientKey = "client_id"

// TokenVerifier resolves an API token to a registered client.
type TokenVerifier interface {
	GetByToken(ctx context.Context, token string) (*domain.Client, error)
}

// AuthToken authenticates requests by opaque bearer token and stores the
// resolved client ID on the request context.
func AuthToken(clients TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization", http.StatusUnauthorized)
				return
			}
			client, err := clients.GetByToken(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				http.Error(w, "authorization unavailable", http.StatusServiceUnavailable)
				return
			}
			ctx := context.WithValue(r.Context(), clientIDKey, client.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFromContext returns the authenticated client ID, or empty when the
// request was not authenticated.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}
