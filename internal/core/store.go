package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence interface consumed by every core component. The
// Postgres implementation lives in internal/postgres; components depend on
// this interface so they can be tested without a database.
type Store interface {
	ProjectStore
	RepoStore
	PipelineStore
	RunStore
	StepStore
	MetricStore
	BaselineStore
	RunnerStore
	SecretStore
}

// ProjectStore persists Project rows.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
}

// RepoStore persists Repo rows.
type RepoStore interface {
	CreateRepo(ctx context.Context, r *Repo) error
	GetRepo(ctx context.Context, id uuid.UUID) (*Repo, error)
	// GetRepoByPath looks up a repo by its on-disk path, used by the Git push
	// ingress hook which only knows the path the transport wrote to.
	GetRepoByPath(ctx context.Context, path string) (*Repo, error)
	ListRepos(ctx context.Context, projectID uuid.UUID) ([]Repo, error)
	DeleteRepo(ctx context.Context, id uuid.UUID) error
}

// PipelineStore persists Pipeline rows, including the atomic due-pipeline
// scan the scheduler depends on.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *Pipeline) error
	UpsertPipelineByName(ctx context.Context, p *Pipeline) error
	GetPipeline(ctx context.Context, id uuid.UUID) (*Pipeline, error)
	ListPipelines(ctx context.Context, repoID uuid.UUID) ([]Pipeline, error)
	// SetNextRunAt advances next_run_at. Called before the scheduler creates
	// the child run (spec-mandated ordering, §4.E step 3).
	SetNextRunAt(ctx context.Context, id uuid.UUID, next *time.Time) error
	// GetPipelinesDue returns pipelines whose next_run_at <= now.
	GetPipelinesDue(ctx context.Context, now time.Time) ([]Pipeline, error)
}

// RunStore persists Run rows and the dispatcher's atomic reservation.
type RunStore interface {
	CreateRun(ctx context.Context, r *Run, steps []Step) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRunsByPipeline(ctx context.Context, pipelineID uuid.UUID, limit, offset int) ([]Run, error)
	// HasPendingOrRunningRun reports whether pipelineID already has a run in
	// pending or running status (scheduler idempotence, §4.E step 5).
	HasPendingOrRunningRun(ctx context.Context, pipelineID uuid.UUID) (bool, error)
	// ListPendingRuns returns pending runs ordered by created_at ascending,
	// the dispatcher's candidate pool (§4.H step 3).
	ListPendingRuns(ctx context.Context, limit int) ([]Run, error)
	// ReserveRunForRunner atomically transitions one run to running and
	// increments runnerID's active_jobs in a single transaction, conditional
	// on both the run still being pending and active_jobs < max_concurrency.
	// Returns (nil, 0, nil) if either condition failed to hold by commit
	// time — lost either race to a concurrent dispatcher or to a runner
	// already at capacity, not an error.
	ReserveRunForRunner(ctx context.Context, runID, runnerID uuid.UUID) (*Run, int, error)
	SetRunStatus(ctx context.Context, id uuid.UUID, status RunStatus, startedAt, finishedAt *time.Time) error
}

// StepStore persists Step rows and append-only output.
type StepStore interface {
	ListSteps(ctx context.Context, runID uuid.UUID) ([]Step, error)
	GetStep(ctx context.Context, id uuid.UUID) (*Step, error)
	SetStepStatus(ctx context.Context, id uuid.UUID, status StepStatus, exitCode *int, startedAt, finishedAt *time.Time) error
	// AppendStepOutput performs a transactional UPDATE ... SET output =
	// output || $1. Never buffered in process memory across requests.
	AppendStepOutput(ctx context.Context, id uuid.UUID, chunk string) error
}

// MetricStore persists Metric rows.
type MetricStore interface {
	CreateMetric(ctx context.Context, m *Metric) error
	ListMetricsByRun(ctx context.Context, runID uuid.UUID) ([]Metric, error)
}

// BaselineStore persists Baseline rows.
type BaselineStore interface {
	UpsertBaseline(ctx context.Context, b *Baseline) error
	GetBaseline(ctx context.Context, pipelineID uuid.UUID, key string) (*Baseline, error)
	ListBaselinesByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]Baseline, error)
}

// RunnerStore persists Runner rows and its atomic concurrency counters.
type RunnerStore interface {
	CreateRunner(ctx context.Context, r *Runner) error
	GetRunner(ctx context.Context, id uuid.UUID) (*Runner, error)
	GetRunnerByToken(ctx context.Context, token string) (*Runner, error)
	ListRunners(ctx context.Context) ([]Runner, error)
	TouchRunnerLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	SetRunnerStatus(ctx context.Context, id uuid.UUID, status RunnerStatus) error
	// DecrementActiveJobs decrements active_jobs, clamped at zero, and
	// returns the new value.
	DecrementActiveJobs(ctx context.Context, id uuid.UUID) (int, error)
}

// SecretStore persists Secret rows. Values are stored pre-encrypted by the
// caller; this interface never sees plaintext.
type SecretStore interface {
	UpsertSecret(ctx context.Context, s *Secret) error
	GetSecret(ctx context.Context, scope SecretScope, scopeID uuid.UUID, name string) (*Secret, error)
	ListSecrets(ctx context.Context, scope SecretScope, scopeID uuid.UUID) ([]Secret, error)
	DeleteSecret(ctx context.Context, scope SecretScope, scopeID uuid.UUID, name string) error
}
