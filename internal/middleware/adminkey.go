package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminKeyHeader carries the operator credential for the grant management API.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey guards the grant management endpoints with a static
// operator key, compared in constant time.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(AdminKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
