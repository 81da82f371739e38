package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
)

// handleRunnerPoll implements GET /runner/poll (spec §4.H, §6).
func (s *Server) handleRunnerPoll(w http.ResponseWriter, r *http.Request) {
	runner := runnerFromContext(r.Context())
	job, err := s.Dispatcher.Poll(r.Context(), runner.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"job": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type stepUpdateRequest struct {
	StepID   uuid.UUID       `json:"stepId"`
	Status   core.StepStatus `json:"status"`
	ExitCode *int            `json:"exitCode,omitempty"`
	Output   string          `json:"output,omitempty"`
}

// handleRunnerStep implements POST /runner/step.
func (s *Server) handleRunnerStep(w http.ResponseWriter, r *http.Request) {
	runner := runnerFromContext(r.Context())

	var req stepUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	var startedAt, finishedAt *time.Time
	switch req.Status {
	case core.StepStatusRunning:
		startedAt = &now
	case core.StepStatusSuccess, core.StepStatusFailed, core.StepStatusSkipped:
		finishedAt = &now
	}

	if err := s.Store.SetStepStatus(r.Context(), req.StepID, req.Status, req.ExitCode, startedAt, finishedAt); err != nil {
		writeError(w, err)
		return
	}
	if req.Output != "" {
		if err := s.Store.AppendStepOutput(r.Context(), req.StepID, req.Output); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.touchRunner(r.Context(), runner.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type stepOutputRequest struct {
	StepID uuid.UUID `json:"stepId"`
	Output string    `json:"output"`
}

// handleRunnerOutput implements POST /runner/output. Appends are additive;
// concurrent calls for the same step are expected to be serialized by the
// runner, not by the server.
func (s *Server) handleRunnerOutput(w http.ResponseWriter, r *http.Request) {
	runner := runnerFromContext(r.Context())

	var req stepOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := s.Store.AppendStepOutput(r.Context(), req.StepID, req.Output); err != nil {
		writeError(w, err)
		return
	}
	if err := s.touchRunner(r.Context(), runner.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type metricInput struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type runCompleteRequest struct {
	RunID   uuid.UUID       `json:"runId"`
	Status  core.RunStatus  `json:"status"`
	Metrics []metricInput   `json:"metrics"`
}

// handleRunnerComplete implements POST /runner/complete (spec §4.G, §4.I).
func (s *Server) handleRunnerComplete(w http.ResponseWriter, r *http.Request) {
	runner := runnerFromContext(r.Context())

	var req runCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid request body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if !core.ValidTerminalStatus(req.Status) {
		errorJSON(w, "status must be success or failed", "VALIDATION", http.StatusBadRequest)
		return
	}

	run, err := s.Store.GetRun(r.Context(), req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	if core.CanComplete(run.Status) {
		if err := s.Store.SetRunStatus(r.Context(), run.ID, req.Status, nil, &now); err != nil {
			writeError(w, err)
			return
		}
	}
	// A completion callback arriving for an already-terminal (e.g. cancelled)
	// run is accepted without reviving it — metrics are still recorded below.

	metrics := make([]core.Metric, 0, len(req.Metrics))
	for _, m := range req.Metrics {
		metric := &core.Metric{RunID: run.ID, Key: m.Key, Value: m.Value, Unit: m.Unit}
		if err := s.Store.CreateMetric(r.Context(), metric); err != nil {
			writeError(w, err)
			return
		}
		metrics = append(metrics, *metric)
	}

	baselines, err := s.Store.ListBaselinesByPipeline(r.Context(), run.PipelineID)
	if err != nil {
		writeError(w, err)
		return
	}
	check := core.CompareBaselines(metrics, baselines)

	if _, err := s.Store.DecrementActiveJobs(r.Context(), runner.ID); err != nil {
		writeError(w, err)
		return
	}
	// Unconditionally online on any completion, regardless of other
	// in-flight jobs on this runner — the documented Open Question
	// behavior, preserved rather than "fixed."
	if err := s.Store.SetRunnerStatus(r.Context(), runner.ID, core.RunnerOnline); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Store.TouchRunnerLastSeen(r.Context(), runner.ID, now); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"baselineCheck": check})
}

// handleRunnerHeartbeat implements POST /runner/heartbeat.
func (s *Server) handleRunnerHeartbeat(w http.ResponseWriter, r *http.Request) {
	runner := runnerFromContext(r.Context())
	if err := s.touchRunner(r.Context(), runner.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) touchRunner(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	if err := s.Store.TouchRunnerLastSeen(ctx, id, now); err != nil {
		return err
	}
	return s.Store.SetRunnerStatus(ctx, id, core.RunnerOnline)
}
