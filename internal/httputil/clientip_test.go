package httputil

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{name: "remote addr with port", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6 remote addr", remoteAddr: "[::1]:12345", want: "::1"},
		{name: "remote addr without port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "mapped ipv4 is unmapped", remoteAddr: "[::ffff:10.1.2.3]:80", want: "10.1.2.3"},
		{name: "unparseable remote addr kept", remoteAddr: "pipe", want: "pipe"},

		{name: "headers ignored when untrusted", remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", xri: "5.6.7.8", want: "10.0.0.1"},

		{name: "forwarded single", trustProxy: true, remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", want: "1.2.3.4"},
		{name: "forwarded chain takes leftmost", trustProxy: true, remoteAddr: "10.0.0.3:1234", xff: "1.2.3.4, 10.0.0.1, 10.0.0.2", want: "1.2.3.4"},
		{name: "forwarded garbage skipped", trustProxy: true, remoteAddr: "10.0.0.3:1234", xff: "unknown, 1.2.3.4", want: "1.2.3.4"},
		{name: "forwarded with port", trustProxy: true, remoteAddr: "10.0.0.3:1234", xff: "1.2.3.4:5555", want: "1.2.3.4"},
		{name: "real ip fallback", trustProxy: true, remoteAddr: "10.0.0.1:1234", xri: "5.6.7.8", want: "5.6.7.8"},
		{name: "forwarded beats real ip", trustProxy: true, remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4", xri: "5.6.7.8", want: "1.2.3.4"},
		{name: "all headers invalid", trustProxy: true, remoteAddr: "10.0.0.1:1234", xff: "n/a", xri: "also bad", want: "10.0.0.1"},
		{name: "no headers", trustProxy: true, remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP(trustProxy=%v) = %q, want %q", tt.trustProxy, got, tt.want)
			}
		})
	}
}
