package auth

import (
	"net/http"
	"strings"
)

// HTTPMiddleware rejects mutating requests that carry no valid bearer token.
// Reads are served without a token so cached data stays reachable offline.
func HTTPMiddleware(next http.Handler, jwtSecret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isProtectedRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := Authenticate(r.Header.Get("Authorization"), jwtSecret)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="fives"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func isProtectedRequest(r *http.Request) bool {
	if !strings.HasPrefix(r.URL.Path, "/v1/") {
		return false
	}
	// signing in is how a token reaches the service in the first place
	if r.URL.Path == "/v1/session" && r.Method == http.MethodPost {
		return false
	}
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
