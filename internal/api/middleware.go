package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

type ctxKey int

const privilegedKey ctxKey = iota

// contextAuth satisfies chat.Auth by reading the privilege flag the
// admin-token middleware stored on the request context.
type contextAuth struct{}

func (contextAuth) IsPrivileged(ctx context.Context, _ string) bool {
	v, _ := ctx.Value(privilegedKey).(bool)
	return v
}

// adminTokenMiddleware marks requests carrying the configured admin
// token as privileged. An empty configured token never matches.
func adminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := r.Header.Get("X-Admin-Token")
				if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
					r = r.WithContext(context.WithValue(r.Context(), privilegedKey, true))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin rejects requests that did not present the admin token.
func requireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, _ := r.Context().Value(privilegedKey).(bool); !v {
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs each request with latency.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				"method", r.Method, "path", r.URL.Path,
				"duration", time.Since(start))
		})
	}
}

// recoverer converts panics into 500s instead of dropping connections.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler", "panic", rec, "path", r.URL.Path)
					writeError(w, http.StatusInternalServerError, "internal", "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware applies a minimal allow-list CORS policy.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller address used for sessions and quotas.
//
// When trustProxy is set, X-Real-IP is preferred, then the first
// X-Forwarded-For entry; values are validated with net.ParseIP so
// arbitrary header strings cannot become rate-limit keys. Otherwise
// only RemoteAddr is used.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
