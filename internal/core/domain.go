// Package core defines EIFL's domain types and the pure logic that does not
// need a database connection: manifest parsing, cron evaluation, secret
// encryption, and the run/step lifecycle state machine.
//
// Domain types carry json tags because they are serialized directly in API
// responses — see internal/httpapi, which has no separate response DTOs for
// the common case.
package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project is a top-level container for repos. Deleting a project cascades.
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repo hosts a local bare Git repository or references a remote one.
type Repo struct {
	ID            uuid.UUID `json:"id"`
	ProjectID     uuid.UUID `json:"project_id"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	RemoteURL     string    `json:"remote_url,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	CreatedAt     time.Time `json:"created_at"`
}

// Pipeline is a named build defined by a manifest checked into a Repo.
type Pipeline struct {
	ID         uuid.UUID       `json:"id"`
	RepoID     uuid.UUID       `json:"repo_id"`
	Name       string          `json:"name"`
	Config     json.RawMessage `json:"config"` // raw manifest JSON, parsed on read
	NextRunAt  *time.Time      `json:"next_run_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RunStatus is the finite status enum for a Run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status will never transition again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// TriggerKind identifies what caused a Run to be created.
type TriggerKind string

const (
	TriggerPush       TriggerKind = "push"
	TriggerSchedule   TriggerKind = "schedule"
	TriggerManual     TriggerKind = "manual"
	TriggerGithubPush TriggerKind = "github-push"
)

// Run is one execution attempt of a Pipeline against a specific commit.
type Run struct {
	ID         uuid.UUID   `json:"id"`
	PipelineID uuid.UUID   `json:"pipeline_id"`
	Status     RunStatus   `json:"status"`
	CommitSHA  string      `json:"commit_sha,omitempty"`
	Branch     string      `json:"branch,omitempty"`
	TriggeredBy TriggerKind `json:"triggered_by"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// StepStatus is the finite status enum for a Step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// Step is one shell command within a Run, executed in declared order.
type Step struct {
	ID         uuid.UUID  `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	Name       string     `json:"name"`
	Command    string     `json:"command"`
	Status     StepStatus `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Output     string     `json:"output"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Metric is a numeric measurement captured from a Run. Metrics are never
// unique per (run_id, key) — history is kept per key across successful runs.
type Metric struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Baseline is a per-pipeline, per-metric reference value used to flag
// regressions. (pipeline_id, key) is unique.
type Baseline struct {
	ID            uuid.UUID `json:"id"`
	PipelineID    uuid.UUID `json:"pipeline_id"`
	Key           string    `json:"key"`
	BaselineValue float64   `json:"baseline_value"`
	TolerancePct  float64   `json:"tolerance_pct"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultTolerancePct is applied when a baseline is created without an
// explicit tolerance.
const DefaultTolerancePct = 10.0

// RunnerStatus is the finite status enum for a Runner.
type RunnerStatus string

const (
	RunnerOnline  RunnerStatus = "online"
	RunnerOffline RunnerStatus = "offline"
	RunnerBusy    RunnerStatus = "busy"
)

// Runner is an external worker process authenticated by a bearer token.
// Invariant: 0 <= ActiveJobs <= MaxConcurrency in steady state; the store
// never lets ActiveJobs go below zero on decrement.
type Runner struct {
	ID             uuid.UUID    `json:"id"`
	Name           string       `json:"name"`
	Token          string       `json:"-"` // never serialized
	Status         RunnerStatus `json:"status"`
	Tags           []string     `json:"tags"`
	MaxConcurrency int          `json:"max_concurrency"`
	ActiveJobs     int          `json:"active_jobs"`
	LastSeen       *time.Time   `json:"last_seen,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// HasTags reports whether r carries every tag in required (required ⊆ r.Tags).
// An empty required set always matches.
func (r Runner) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		have[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// SecretScope distinguishes project-wide secrets from repo-scoped overrides.
type SecretScope string

const (
	SecretScopeProject SecretScope = "project"
	SecretScopeRepo    SecretScope = "repo"
)

// Secret is an authenticated-encryption-at-rest credential. (scope, scope_id,
// name) is unique; name must match ^[A-Z][A-Z0-9_]*$ (checked by the HTTP
// façade and by a CHECK constraint on secrets.name).
type Secret struct {
	ID             uuid.UUID   `json:"id"`
	Scope          SecretScope `json:"scope"`
	ScopeID        uuid.UUID   `json:"scope_id"`
	Name           string      `json:"name"`
	EncryptedValue string      `json:"-"`
	IV             string      `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
