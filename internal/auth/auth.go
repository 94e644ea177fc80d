// Package auth gates state-changing API calls behind a static bearer token.
// Reads stay public so dashboards and EventSource clients, which cannot set
// headers, work without credentials.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// alwaysPublic is reachable with any method.
var alwaysPublic = map[string]bool{
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/api/v1/stream": true,
	"/api/v1/latest": true,
}

// readTrees are public for safe methods only; POST /api/v1/satellites/refresh
// sits under one and still needs a token.
var readTrees = []string{
	"/api/v1/satellites",
	"/api/v1/monitoring/status",
	"/api/v1/status",
}

func public(r *http.Request) bool {
	if alwaysPublic[r.URL.Path] {
		return true
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	for _, tree := range readTrees {
		if strings.HasPrefix(r.URL.Path, tree) {
			return true
		}
	}
	return false
}

// bearer extracts the credential from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects non-public requests that lack the configured token.
// It is a pass-through when auth is disabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	want := []byte(cfg.Token)
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public(r) {
				next.ServeHTTP(w, r)
				return
			}
			if got, ok := bearer(r); !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="skytrack"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
