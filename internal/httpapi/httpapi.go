// Package httpapi provides the chi-routed HTTP façade over the core
// components: operator CRUD, the bearer-token runner protocol, and the Git
// push ingress hook. Grounded on the teacher's internal/api package.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/eifl-ci/eifl/internal/config"
	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/dispatcher"
	"github.com/eifl-ci/eifl/internal/gitadapter"
	"github.com/eifl-ci/eifl/internal/pushtrigger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxJSONBodySize caps request bodies, matching the teacher's limitJSONBody.
const maxJSONBodySize = 1 << 20

// validNameRe matches lowercase slug resource names.
var validNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func validName(s string) bool {
	return len(s) <= 128 && validNameRe.MatchString(s)
}

// secretNameRe matches the shouty-snake-case form secrets are shipped to
// runners as (they land directly in the job payload's env-var-shaped
// secrets map).
var secretNameRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

func validSecretName(s string) bool {
	return len(s) <= 128 && secretNameRe.MatchString(s)
}

func (s *Server) parsePagination(r *http.Request) (limit, offset int) {
	defaultLimit, maxLimit := s.Config.DefaultPageSize, s.Config.MaxPageSize
	limit, offset = defaultLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// APIError is the structured JSON error envelope for every error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Error: APIErrorDetail{Code: code, Message: message}}); err != nil {
		slog.Error("httpapi: failed to encode error response", "error", err)
	}
}

func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
	}
}

// writeError maps the nine core error kinds (spec §7) onto HTTP status
// codes and the JSON error envelope. Anything unrecognized is a 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		valErr   *core.ValidationError
		nfErr    *core.NotFoundError
		conErr   *core.ConflictError
		authErr  *core.UnauthorizedError
		preErr   *core.PreconditionFailedError
		cronErr  *core.InvalidCronError
		decErr   *core.DecryptError
		encErr   *core.EncryptionNotConfiguredError
		storeErr *core.StoreError
	)
	switch {
	case errors.As(err, &valErr):
		errorJSON(w, valErr.Error(), "VALIDATION", http.StatusBadRequest)
	case errors.As(err, &nfErr):
		errorJSON(w, nfErr.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.As(err, &conErr):
		errorJSON(w, conErr.Error(), "CONFLICT", http.StatusConflict)
	case errors.As(err, &authErr):
		errorJSON(w, authErr.Error(), "UNAUTHORIZED", http.StatusUnauthorized)
	case errors.As(err, &preErr):
		errorJSON(w, preErr.Error(), "PRECONDITION_FAILED", http.StatusPreconditionFailed)
	case errors.As(err, &cronErr):
		errorJSON(w, cronErr.Error(), "INVALID_CRON", http.StatusBadRequest)
	case errors.As(err, &decErr):
		errorJSON(w, decErr.Error(), "DECRYPT_ERROR", http.StatusInternalServerError)
	case errors.As(err, &encErr):
		errorJSON(w, encErr.Error(), "ENCRYPTION_NOT_CONFIGURED", http.StatusPreconditionFailed)
	case errors.As(err, &storeErr):
		internalError(w, "store error", storeErr)
	default:
		internalError(w, "unexpected error", err)
	}
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.Body != nil && !strings.HasPrefix(ct, "multipart/") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// Server holds every dependency the HTTP handlers need.
type Server struct {
	Store      core.Store
	Crypto     *core.Crypto
	Git        gitadapter.Adapter
	Dispatcher *dispatcher.Dispatcher
	PushTrigger *pushtrigger.Trigger

	// APIKey, if non-empty, gates the operator CRUD routes with a static
	// bearer token (teacher's auth.APIKey). Empty means no auth, matching
	// the teacher's single-user Community default.
	APIKey string

	CORSOrigins []string

	// Config supplies pagination defaults. Defaulted by NewRouter when nil
	// so handler tests don't each need to construct one.
	Config *config.Config
}

// NewRouter builds the full chi router.
func NewRouter(s *Server) chi.Router {
	if s.Config == nil {
		s.Config = config.DefaultConfig()
	}

	r := chi.NewRouter()

	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		AllowedOrigins: origins,
		MaxAge:         300,
	}))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	// Git push ingress — the smart-HTTP transport itself is out of scope;
	// this is the post-receive hook contract (spec §6, SPEC_FULL §10.3).
	// repoPath is a wildcard, not a single chi segment, since on-disk repo
	// paths contain slashes (e.g. "acme/app.git").
	r.Post("/git/*", s.handleGitReceive)

	// Runner protocol, token-authenticated per spec §6.
	r.Route("/runner", func(r chi.Router) {
		r.Use(s.runnerAuth)
		r.Get("/poll", s.handleRunnerPoll)
		r.Post("/step", s.handleRunnerStep)
		r.Post("/output", s.handleRunnerOutput)
		r.Post("/complete", s.handleRunnerComplete)
		r.Post("/heartbeat", s.handleRunnerHeartbeat)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		if s.APIKey != "" {
			r.Use(apiKeyAuth(s.APIKey))
		}
		mountOperatorRoutes(r, s)
	})

	return r
}
