package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware returns middleware that validates authentication.
// If token is empty, any request carrying a Bearer token is accepted. If
// token is non-empty, the Bearer token must match exactly.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, prefix) {
				Unauthorized(w)
				return
			}
			bearerValue := strings.TrimSpace(authHeader[len(prefix):])
			if bearerValue == "" {
				Unauthorized(w)
				return
			}
			if token != "" && subtle.ConstantTimeCompare([]byte(bearerValue), []byte(token)) != 1 {
				Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodyMiddleware caps the request body at limit bytes. Reads past the cap
// fail with *http.MaxBytesError.
func MaxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				TooLarge(w, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
