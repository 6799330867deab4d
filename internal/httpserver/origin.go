package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

// withOriginPolicy applies the configured browser origin allowlist to an API
// handler. Requests without an Origin header (curl, same-origin fetches) are
// always allowed; an empty allowlist allows every origin.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !originAllowed(origin, s.cfg.AllowedOrigins) {
				s.log.Warn("origin rejected", "origin", origin, "path", r.URL.Path)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		next(w, r)
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if cand, ok := normalizeOrigin(a); ok && cand == norm {
			return true
		}
	}
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
