package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
)

// securityHeaders adds standard defensive response headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID propagates or generates an X-Request-ID and stores it in the
// request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext extracts the request ID, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// RequestLogger logs every request via log/slog, skipping /health to avoid
// noise from orchestrator liveness probes.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		dur := time.Since(start)

		attrs := []any{"method", r.Method, "path", r.URL.Path, "status", wrapped.status,
			"duration_ms", dur.Milliseconds(), "request_id", RequestIDFromContext(r.Context())}
		switch {
		case wrapped.status >= 500:
			slog.Error("request", attrs...)
		case wrapped.status >= 400:
			slog.Warn("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	})
}

// apiKeyAuth gates operator CRUD routes with a single static bearer token.
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	keyBytes := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), keyBytes) != 1 {
				errorJSON(w, "missing or invalid Authorization header", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type runnerKey struct{}

// runnerAuth looks up the bearer token against the Runner store, unlike the
// operator route's single static key. Unknown or missing tokens are
// rejected before any handler runs.
func (s *Server) runnerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			errorJSON(w, "missing Authorization header", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		runner, err := s.Store.GetRunnerByToken(r.Context(), token)
		if err != nil {
			var nfErr *core.NotFoundError
			if errors.As(err, &nfErr) {
				errorJSON(w, "unknown runner token", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			internalError(w, "runner lookup failed", err)
			return
		}
		ctx := context.WithValue(r.Context(), runnerKey{}, runner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func runnerFromContext(ctx context.Context) *core.Runner {
	r, _ := ctx.Value(runnerKey{}).(*core.Runner)
	return r
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
