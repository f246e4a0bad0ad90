package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// APIKeyHeader is the alternative to "Authorization: Bearer <key>"
const APIKeyHeader = "X-API-Key"

// APIKeyAuth admits requests carrying key, from either the Authorization
// header ("Bearer <key>" or "<key>") or X-API-Key.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := presentedKey(r)
			if got == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}
			// constant-time comparison to prevent timing attacks
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				log.Printf("security: invalid API key path=%s ip=%s", r.URL.Path, clientIP(r))
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(APIKeyHeader)); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
