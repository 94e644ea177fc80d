package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"health is public", "GET", "/healthz", "", http.StatusOK},
		{"metrics is public", "GET", "/metrics", "", http.StatusOK},
		{"stream is public", "GET", "/api/v1/stream", "", http.StatusOK},
		{"snapshot read is public", "GET", "/api/v1/satellites", "", http.StatusOK},
		{"visibility read is public", "GET", "/api/v1/satellites/visible", "", http.StatusOK},
		{"monitoring status is public", "GET", "/api/v1/monitoring/status", "", http.StatusOK},
		{"refresh needs token", "POST", "/api/v1/satellites/refresh", "", http.StatusUnauthorized},
		{"monitoring start needs token", "POST", "/api/v1/monitoring/start", "", http.StatusUnauthorized},
		{"wrong token", "POST", "/api/v1/monitoring/stop", "Bearer nope", http.StatusUnauthorized},
		{"missing bearer prefix", "POST", "/api/v1/monitoring/stop", "s3cret", http.StatusUnauthorized},
		{"empty bearer", "POST", "/api/v1/monitoring/stop", "Bearer ", http.StatusUnauthorized},
		{"valid token", "POST", "/api/v1/monitoring/stop", "Bearer s3cret", http.StatusOK},
		{"lowercase scheme", "POST", "/api/v1/monitoring/stop", "bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate")
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	handler := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/satellites/refresh", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
