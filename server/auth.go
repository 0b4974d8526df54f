package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// optionsTokenParam carries the token for the options page, which is
// opened in a browser that cannot set headers.
const optionsTokenParam = "token"

// Probes and scrapes stay reachable without a token.
var unauthenticatedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// authMiddleware requires the configured bearer token on every path except
// health and metrics. With no token configured it passes everything through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	want := []byte(s.config.AuthToken)
	if len(want) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		got, source := presentedToken(r)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			if s.logger != nil {
				s.logger.Debug("request rejected", "path", r.URL.Path, "token_source", source)
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// presentedToken returns the caller's token and where it came from. An
// Authorization header that is not a bearer credential yields no token, even
// when a query token is also present.
func presentedToken(r *http.Request) (token, source string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		bearer, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return "", "header"
		}
		return bearer, "header"
	}
	if r.Method == http.MethodGet && r.URL.Path == "/options" {
		return r.URL.Query().Get(optionsTokenParam), "query"
	}
	return "", "none"
}
