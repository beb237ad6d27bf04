package daemon

import (
	"net/http"
	"strings"
)

// protect enforces the configured API token on a handler. An empty token
// leaves the daemon open, which fits the default localhost bind; otherwise
// requests carry "Authorization: Bearer <token>". The healthcheck route is
// registered without this wrapper so probes can reach it unauthenticated.
func (s *apiServer) protect(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
