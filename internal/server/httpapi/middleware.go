package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/binhnvh/usermgmt/internal/server/authz"
)

// authedHandler receives the caller's verified claim set as an explicit
// argument. Nothing downstream reads identity from ambient state.
type authedHandler func(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet)

// requireAuth extracts and verifies the bearer token before invoking next.
// A missing, malformed, expired, or tampered token is a 401; the response
// does not say which.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			s.writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		claims, err := s.auth.Authenticate(strings.TrimSpace(tokenString))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r, claims)
	}
}

// authorize evaluates the policy table rule for the matched route pattern.
// subject is the username of the record the request targets, or empty for
// routes without a subject.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, claims authz.ClaimSet, subject string) bool {
	if err := s.policy.Authorize(r.Pattern, claims, subject); err != nil {
		s.writeError(w, http.StatusForbidden, "insufficient privileges")
		return false
	}
	return true
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}
