package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-sensitively.
func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// keyMatches compares a presented key to the configured one in constant
// time.
func keyMatches(presented, apiKey string) bool {
	if apiKey == "" || len(presented) != len(apiKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) == 1
}

// AuthMiddleware rejects requests that do not carry the API key as a
// bearer token with a 401 problem. The key never appears in logs or
// responses.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r)
			if !keyMatches(token, apiKey) {
				slog.Warn("auth failure",
					"component", "api",
					"action", "auth_failed",
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"token_present", present,
					"remote_ip", r.RemoteAddr,
				)
				WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID returns the chi request ID from ctx, or "" if absent.
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// routePattern is the matched chi pattern for r, or "unmatched". It is only
// complete once the router has served the request.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func logLevelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// LoggingMiddleware writes one structured line per request. Header values
// are never logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		attrs := []any{
			"component", "api",
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"route", routePattern(r),
			"status", rec.status,
			"bytes", rec.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if table := chi.URLParam(r, "table"); table != "" {
			attrs = append(attrs, "table", table)
		}
		slog.Log(r.Context(), logLevelForStatus(rec.status), "request completed", attrs...)
	})
}

// statusRecorder captures the response status and body size.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

// Hijack lets the change feed upgrade to a websocket through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// RecoveryMiddleware turns a handler panic into a 500 problem. The panic
// value and stack go to the log only.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered",
					"component", "api",
					"request_id", GetRequestID(r.Context()),
					"error", recovered,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
