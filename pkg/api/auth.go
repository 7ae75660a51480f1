package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/opencraw/opencraw/pkg/config"
)

// Prefixes that skip bearer auth entirely; webhook senders cannot carry
// our tokens.
var exemptPrefixes = []string{
	"/api/v1/os/automation/webhook/",
	"/api/v1/os/automation/poll/",
}

// scopeForPath maps the first path segment under /api/v1/os/ to the
// scope a token must carry.
func scopeForPath(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/os/")
	seg, _, _ := strings.Cut(rest, "/")
	switch seg {
	case "config":
		return "config:write"
	case "sessions":
		return "sessions:write"
	case "skills":
		return "skills:write"
	case "messages":
		return "messages:write"
	case "channels":
		return "channels:write"
	case "automation":
		return "automation:write"
	default:
		return ""
	}
}

func tokenGrants(t config.APIToken, scope string) bool {
	if len(t.Scopes) == 0 {
		return true
	}
	for _, s := range t.Scopes {
		if s == "*" || s == "control:write" || s == scope {
			return true
		}
	}
	return false
}

// authMiddleware enforces strict mode: active iff the token pool is
// non-empty, and only on mutating requests. Reads stay open even in
// strict mode. Violations are 401s with a JSON error body.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range exemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		orgID := r.Header.Get("x-org-id")
		if orgID == "" {
			writeAuthError(w, "missing x-org-id header")
			return
		}
		if _, err := uuid.Parse(orgID); err != nil {
			writeAuthError(w, "x-org-id must be a UUID")
			return
		}

		auth := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || bearer == "" {
			writeAuthError(w, "missing bearer token")
			return
		}

		scope := scopeForPath(r.URL.Path)
		for _, t := range s.tokens {
			if t.Token == bearer {
				if tokenGrants(t, scope) {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, "token lacks scope "+scope)
				return
			}
		}
		writeAuthError(w, "unknown token")
	})
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "error",
		"error":  msg,
	})
}
