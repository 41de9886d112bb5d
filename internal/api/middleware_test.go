package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foliolabs/folio/internal/log"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "proxy headers ignored without trust",
			remoteAddr: "10.0.0.1:80",
			realIP:     "203.0.113.7",
			forwarded:  "198.51.100.2",
			want:       "10.0.0.1",
		},
		{
			name:       "x-real-ip preferred when trusted",
			remoteAddr: "10.0.0.1:80",
			realIP:     "203.0.113.7",
			forwarded:  "198.51.100.2",
			trustProxy: true,
			want:       "203.0.113.7",
		},
		{
			name:       "first forwarded-for entry",
			remoteAddr: "10.0.0.1:80",
			forwarded:  "198.51.100.2, 10.0.0.1",
			trustProxy: true,
			want:       "198.51.100.2",
		},
		{
			name:       "garbage header falls through to remote addr",
			remoteAddr: "10.0.0.1:80",
			realIP:     "not-an-ip",
			forwarded:  "also garbage",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAdminTokenMiddleware(t *testing.T) {
	logger := log.NewNop()
	guarded := adminTokenMiddleware("secret")(requireAdmin(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"correct token", "secret", http.StatusOK},
		{"wrong token", "wrong", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				r.Header.Set("X-Admin-Token", tt.token)
			}
			w := httptest.NewRecorder()
			guarded.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAdminTokenMiddlewareEmptyConfiguredToken(t *testing.T) {
	// No configured token means nothing can authenticate, including an
	// empty header.
	logger := log.NewNop()
	guarded := adminTokenMiddleware("")(requireAdmin(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Token", "")
	w := httptest.NewRecorder()
	guarded.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(0.001, 3) // effectively no refill within the test

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.allow("203.0.113.7") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d requests, want burst of 3", allowed)
	}

	// A different caller has its own bucket.
	if !rl.allow("198.51.100.2") {
		t.Error("second caller blocked by first caller's bucket")
	}
}
