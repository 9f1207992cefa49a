package security

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"
)

// Middleware wraps a handler with the full hardening stack:
// request/response logging, panic recovery, security headers, and per-IP
// rate limiting.
func Middleware(rl *RateLimiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if err := recover(); err != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					log.Error("panic recovered",
						"panic", err,
						"ip", ip,
						"path", r.URL.Path,
						"stack", string(buf[:n]))
					http.Error(wrapped, "internal server error", http.StatusInternalServerError)
				}

				duration := time.Since(start)
				if wrapped.statusCode >= 400 {
					log.Warn("http response",
						"status", wrapped.statusCode,
						"method", r.Method,
						"path", r.URL.Path,
						"ip", ip,
						"duration", duration,
						"user_agent", r.UserAgent())
				} else {
					log.Debug("http response",
						"status", wrapped.statusCode,
						"method", r.Method,
						"path", r.URL.Path,
						"ip", ip,
						"duration", duration)
				}
			}()

			if !rl.Allow(ip) {
				log.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				http.Error(wrapped, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			wrapped.Header().Set("X-Content-Type-Options", "nosniff")
			wrapped.Header().Set("X-Frame-Options", "DENY")
			wrapped.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			next.ServeHTTP(wrapped, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack forwards to the underlying writer so WebSocket upgrades work
// through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.written = true
	return hj.Hijack()
}
