package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth guards the operational endpoints with a static bearer token
// configured at startup. An empty token disables the endpoints entirely.
type AdminAuth struct {
	token string
}

// NewAdminAuth creates the admin token middleware.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Middleware rejects requests without a matching Authorization bearer token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}

		header := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(a.token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
