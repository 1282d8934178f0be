package handlers

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth protects next with a single dashboard password stored as a bcrypt
// hash. The user name is ignored. An empty hash disables the check.
func BasicAuth(passwordHash string, next http.Handler) http.Handler {
	if passwordHash == "" {
		return next
	}
	hash := []byte(passwordHash)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="silkworm-dashboard"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
