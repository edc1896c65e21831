package http

import (
	"net/http"
	"strings"

	"github.com/artpar/usagemeter/ports"
	"github.com/rs/zerolog"
)

// AdminAuth guards write endpoints with a single admin token whose bcrypt
// hash lives in the config file.
type AdminAuth struct {
	hasher    ports.Hasher
	tokenHash string
	logger    zerolog.Logger
}

// NewAdminAuth creates the guard. An empty tokenHash disables every guarded
// endpoint.
func NewAdminAuth(hasher ports.Hasher, tokenHash string, logger zerolog.Logger) *AdminAuth {
	return &AdminAuth{hasher: hasher, tokenHash: tokenHash, logger: logger}
}

// Middleware accepts "Authorization: Bearer <token>" or "X-Admin-Token".
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.tokenHash == "" {
			writeError(w, http.StatusForbidden, "forbidden", "admin token not configured")
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		if !a.hasher.Compare(a.tokenHash, token) {
			a.logger.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("rejected admin token")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.Header.Get("X-Admin-Token")
}
