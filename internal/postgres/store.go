package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles every entity store behind a single pool, satisfying
// core.Store. Components take core.Store so they can be constructed against
// a fake in tests without touching Postgres.
type Store struct {
	*ProjectStore
	*RepoStore
	*PipelineStore
	*RunStore
	*StepStore
	*MetricStore
	*BaselineStore
	*RunnerStore
	*SecretStore
}

// NewStore builds a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		ProjectStore:  NewProjectStore(pool),
		RepoStore:     NewRepoStore(pool),
		PipelineStore: NewPipelineStore(pool),
		RunStore:      NewRunStore(pool),
		StepStore:     NewStepStore(pool),
		MetricStore:   NewMetricStore(pool),
		BaselineStore: NewBaselineStore(pool),
		RunnerStore:   NewRunnerStore(pool),
		SecretStore:   NewSecretStore(pool),
	}
}
