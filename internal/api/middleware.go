package api

import (
	"net/http"
	"strings"

	"github.com/rs/cors"

	"github.com/pnotato/VSDocs/internal/auth"
)

// CORS wraps a handler with the configured cross-origin policy
func CORS(allowedOrigins []string, h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

// Auth enforces a bearer JWT and puts the user ID in the request context
func (a *API) Auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			errorResponse(w, http.StatusUnauthorized, "Missing token")
			return
		}

		uid, err := a.jwt.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			errorResponse(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), uid)))
	}
}
