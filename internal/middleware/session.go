package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/storage"
)

// SessionAuth resolves the bearer session token to a user id and stores it in
// the request context. The token is taken from the Authorization header
// ("Bearer <token>") or, for WebSocket upgrades where browsers cannot set
// headers, from the "token" query parameter.
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			userID, err := store.Get(r.Context(), token)
			if err != nil {
				logger.Errorf("session lookup %s: %v", MaskToken(token), err)
				unauthorized(w)
				return
			}
			if userID == "" {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the session token from the Authorization header or
// the "token" query parameter.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// MaskToken masks a session token for logs.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
