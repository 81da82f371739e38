package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func mountOperatorRoutes(r chi.Router, s *Server) {
	r.Route("/projects", func(r chi.Router) {
		r.Post("/", s.handleCreateProject)
		r.Get("/", s.handleListProjects)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Delete("/", s.handleDeleteProject)
			r.Route("/repos", func(r chi.Router) {
				r.Post("/", s.handleCreateRepo)
				r.Get("/", s.handleListRepos)
			})
		})
	})

	r.Route("/repos/{repoID}", func(r chi.Router) {
		r.Get("/", s.handleGetRepo)
		r.Delete("/", s.handleDeleteRepo)
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", s.handleCreatePipeline)
			r.Get("/", s.handleListPipelines)
		})
	})

	r.Route("/pipelines/{pipelineID}", func(r chi.Router) {
		r.Get("/", s.handleGetPipeline)
		r.Get("/runs", s.handleListRuns)
		r.Post("/runs", s.handleManualTrigger)
		r.Get("/baselines", s.handleListBaselines)
		r.Put("/baselines/{key}", s.handleUpsertBaseline)
		r.Post("/baselines/{key}/capture", s.handleCaptureBaseline)
	})

	r.Route("/runs/{runID}", func(r chi.Router) {
		r.Get("/", s.handleGetRun)
		r.Post("/cancel", s.handleCancelRun)
	})

	r.Route("/runners", func(r chi.Router) {
		r.Post("/", s.handleRegisterRunner)
		r.Get("/", s.handleListRunners)
	})

	r.Route("/secrets", func(r chi.Router) {
		r.Put("/", s.handleUpsertSecret)
		r.Get("/", s.handleListSecrets)
		r.Delete("/", s.handleDeleteSecret)
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Projects ---

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req core.Project
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if !validName(req.Name) {
		errorJSON(w, "name must be a lowercase slug", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := s.Store.CreateProject(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		errorJSON(w, "invalid project id", "VALIDATION", http.StatusBadRequest)
		return
	}
	project, err := s.Store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		errorJSON(w, "invalid project id", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := s.Store.DeleteProject(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Repos ---

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		errorJSON(w, "invalid project id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req core.Repo
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	req.ProjectID = projectID
	if !validName(req.Name) {
		errorJSON(w, "name must be a lowercase slug", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := s.Store.CreateRepo(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		errorJSON(w, "invalid project id", "VALIDATION", http.StatusBadRequest)
		return
	}
	repos, err := s.Store.ListRepos(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "repoID"))
	if err != nil {
		errorJSON(w, "invalid repo id", "VALIDATION", http.StatusBadRequest)
		return
	}
	repo, err := s.Store.GetRepo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "repoID"))
	if err != nil {
		errorJSON(w, "invalid repo id", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := s.Store.DeleteRepo(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Pipelines ---

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	repoID, err := uuid.Parse(chi.URLParam(r, "repoID"))
	if err != nil {
		errorJSON(w, "invalid repo id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req core.Pipeline
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	req.RepoID = repoID
	manifest, err := core.ParseManifest(req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	req.Name = manifest.Name
	if manifest.Triggers != nil && len(manifest.Triggers.Schedule) > 0 {
		if next, ok, _ := core.EarliestNextRun(manifest.Triggers.Schedule, time.Now().UTC()); ok {
			req.NextRunAt = &next
		}
	}
	if err := s.Store.CreatePipeline(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	repoID, err := uuid.Parse(chi.URLParam(r, "repoID"))
	if err != nil {
		errorJSON(w, "invalid repo id", "VALIDATION", http.StatusBadRequest)
		return
	}
	pipelines, err := s.Store.ListPipelines(r.Context(), repoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "pipelineID"))
	if err != nil {
		errorJSON(w, "invalid pipeline id", "VALIDATION", http.StatusBadRequest)
		return
	}
	pipeline, err := s.Store.GetPipeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

// handleManualTrigger implements POST /pipelines/{id}/runs (SPEC_FULL §11),
// gated on the manifest's triggers.manual flag.
func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(chi.URLParam(r, "pipelineID"))
	if err != nil {
		errorJSON(w, "invalid pipeline id", "VALIDATION", http.StatusBadRequest)
		return
	}
	pipeline, err := s.Store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		writeError(w, err)
		return
	}
	manifest, err := core.ParseManifest(pipeline.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	if manifest.Triggers == nil || !manifest.Triggers.Manual {
		errorJSON(w, "pipeline does not allow manual triggers", "VALIDATION", http.StatusBadRequest)
		return
	}

	repo, err := s.Store.GetRepo(r.Context(), pipeline.RepoID)
	if err != nil {
		writeError(w, err)
		return
	}
	sha, err := s.Git.ResolveHead(r.Context(), repo.Path, repo.DefaultBranch)
	if err != nil {
		writeError(w, err)
		return
	}

	run := &core.Run{PipelineID: pipeline.ID, Status: core.RunStatusPending, CommitSHA: sha, Branch: repo.DefaultBranch, TriggeredBy: core.TriggerManual}
	steps := make([]core.Step, len(manifest.Steps))
	for i, ms := range manifest.Steps {
		steps[i] = core.Step{Name: ms.Name, Command: ms.Run, Status: core.StepStatusPending}
	}
	if err := s.Store.CreateRun(r.Context(), run, steps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(chi.URLParam(r, "pipelineID"))
	if err != nil {
		errorJSON(w, "invalid pipeline id", "VALIDATION", http.StatusBadRequest)
		return
	}
	limit, offset := s.parsePagination(r)
	runs, err := s.Store.ListRunsByPipeline(r.Context(), pipelineID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// --- Runs ---

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		errorJSON(w, "invalid run id", "VALIDATION", http.StatusBadRequest)
		return
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancelRun implements POST /runs/{id}/cancel (SPEC_FULL §11, spec §5).
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		errorJSON(w, "invalid run id", "VALIDATION", http.StatusBadRequest)
		return
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !core.CanCancel(run.Status) {
		errorJSON(w, "run is not cancellable from its current status", "PRECONDITION_FAILED", http.StatusPreconditionFailed)
		return
	}
	now := time.Now().UTC()
	if err := s.Store.SetRunStatus(r.Context(), id, core.RunStatusCancelled, nil, &now); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Baselines ---

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(chi.URLParam(r, "pipelineID"))
	if err != nil {
		errorJSON(w, "invalid pipeline id", "VALIDATION", http.StatusBadRequest)
		return
	}
	baselines, err := s.Store.ListBaselinesByPipeline(r.Context(), pipelineID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baselines)
}

func (s *Server) handleUpsertBaseline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(chi.URLParam(r, "pipelineID"))
	if err != nil {
		errorJSON(w, "invalid pipeline id", "VALIDATION", http.StatusBadRequest)
		return
	}
	key := chi.URLParam(r, "key")
	var req core.Baseline
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	req.PipelineID = pipelineID
	req.Key = key
	if err := s.Store.UpsertBaseline(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleCaptureBaseline implements POST
// /pipelines/{id}/baselines/{key}/capture (SPEC_FULL §11): sets a baseline's
// value from an already-recorded metric of a successful run.
func (s *Server) handleCaptureBaseline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(chi.URLParam(r, "pipelineID"))
	if err != nil {
		errorJSON(w, "invalid pipeline id", "VALIDATION", http.StatusBadRequest)
		return
	}
	key := chi.URLParam(r, "key")

	var req struct {
		RunID uuid.UUID `json:"runId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}

	run, err := s.Store.GetRun(r.Context(), req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run.Status != core.RunStatusSuccess {
		errorJSON(w, "run did not succeed", "PRECONDITION_FAILED", http.StatusPreconditionFailed)
		return
	}

	metrics, err := s.Store.ListMetricsByRun(r.Context(), req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}
	var value float64
	var found bool
	for _, m := range metrics {
		if m.Key == key {
			value, found = m.Value, true
			break
		}
	}
	if !found {
		errorJSON(w, "run has no metric with that key", "NOT_FOUND", http.StatusNotFound)
		return
	}

	baseline := &core.Baseline{PipelineID: pipelineID, Key: key, BaselineValue: value}
	if err := s.Store.UpsertBaseline(r.Context(), baseline); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baseline)
}

// --- Runners ---

// handleRegisterRunner implements POST /runners (SPEC_FULL §11): mints an
// opaque bearer token, returning the plaintext exactly once.
func (s *Server) handleRegisterRunner(w http.ResponseWriter, r *http.Request) {
	var req core.Runner
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		internalError(w, "failed to generate runner token", err)
		return
	}
	req.Token = hex.EncodeToString(tokenBytes)

	if err := s.Store.CreateRunner(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"runner": req, "token": req.Token})
}

func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	runners, err := s.Store.ListRunners(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runners)
}

// --- Secrets ---

func secretScopeParams(r *http.Request) (core.SecretScope, uuid.UUID, error) {
	scope := core.SecretScope(r.URL.Query().Get("scope"))
	if scope != core.SecretScopeProject && scope != core.SecretScopeRepo {
		return "", uuid.Nil, errors.New("scope must be 'project' or 'repo'")
	}
	scopeID, err := uuid.Parse(r.URL.Query().Get("scopeId"))
	if err != nil {
		return "", uuid.Nil, errors.New("scopeId must be a valid uuid")
	}
	return scope, scopeID, nil
}

func (s *Server) handleUpsertSecret(w http.ResponseWriter, r *http.Request) {
	scope, scopeID, err := secretScopeParams(r)
	if err != nil {
		errorJSON(w, err.Error(), "VALIDATION", http.StatusBadRequest)
		return
	}
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if !validSecretName(req.Name) {
		writeError(w, &core.ValidationError{Field: "name", Msg: "must match ^[A-Z][A-Z0-9_]*$"})
		return
	}
	if !s.Crypto.Configured() {
		writeError(w, &core.EncryptionNotConfiguredError{})
		return
	}

	ciphertext, iv, err := s.Crypto.Encrypt(req.Value)
	if err != nil {
		internalError(w, "failed to encrypt secret", err)
		return
	}

	secret := &core.Secret{Scope: scope, ScopeID: scopeID, Name: req.Name, EncryptedValue: ciphertext, IV: iv}
	if err := s.Store.UpsertSecret(r.Context(), secret); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": secret.Name, "scope": string(secret.Scope)})
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	scope, scopeID, err := secretScopeParams(r)
	if err != nil {
		errorJSON(w, err.Error(), "VALIDATION", http.StatusBadRequest)
		return
	}
	secrets, err := s.Store.ListSecrets(r.Context(), scope, scopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secrets)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	scope, scopeID, err := secretScopeParams(r)
	if err != nil {
		errorJSON(w, err.Error(), "VALIDATION", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		errorJSON(w, "name is required", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := s.Store.DeleteSecret(r.Context(), scope, scopeID, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
