package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminSecretHeader carries the back-office shared secret.
const AdminSecretHeader = "X-Admin-Secret"

// RequireAdminSecret guards back-office routes with a shared secret. An empty
// secret disables the routes entirely.
func RequireAdminSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusServiceUnavailable, "admin_disabled", "admin endpoints are not configured")
				return
			}
			got := r.Header.Get(AdminSecretHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, http.StatusForbidden, "forbidden", "invalid admin secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
