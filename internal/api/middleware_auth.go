package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// KeyAuth returns a middleware that validates Bearer token authentication.
// Requests to paths in skipPaths bypass authentication.
func KeyAuth(apiKey string, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteError(w, http.StatusUnauthorized, &core.OJSError{
					Code:    "unauthenticated",
					Message: "Missing or malformed Authorization header. Expected 'Bearer <api key>'.",
				})
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				WriteError(w, http.StatusForbidden, &core.OJSError{
					Code:    "forbidden",
					Message: "Invalid API key.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
