package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
)

// fakeStore is an in-memory core.Store covering every method the httpapi
// handlers call. Anything the handlers never touch is left unimplemented on
// purpose, matching the convention in internal/scheduler and
// internal/dispatcher's test stores.
type fakeStore struct {
	core.Store

	mu        sync.Mutex
	projects  map[uuid.UUID]*core.Project
	repos     map[uuid.UUID]*core.Repo
	repoPaths map[string]uuid.UUID
	pipelines map[uuid.UUID]*core.Pipeline
	runs      map[uuid.UUID]*core.Run
	steps     map[uuid.UUID]*core.Step
	stepsByRun map[uuid.UUID][]uuid.UUID
	metrics   []core.Metric
	baselines map[string]*core.Baseline // key: pipelineID.String()+"/"+key
	runners   map[uuid.UUID]*core.Runner
	runnersByToken map[string]uuid.UUID
	secrets   map[string]*core.Secret // key: scope/scopeID/name
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:       make(map[uuid.UUID]*core.Project),
		repos:          make(map[uuid.UUID]*core.Repo),
		repoPaths:      make(map[string]uuid.UUID),
		pipelines:      make(map[uuid.UUID]*core.Pipeline),
		runs:           make(map[uuid.UUID]*core.Run),
		steps:          make(map[uuid.UUID]*core.Step),
		stepsByRun:     make(map[uuid.UUID][]uuid.UUID),
		baselines:      make(map[string]*core.Baseline),
		runners:        make(map[uuid.UUID]*core.Runner),
		runnersByToken: make(map[string]uuid.UUID),
		secrets:        make(map[string]*core.Secret),
	}
}

func secretKey(scope core.SecretScope, scopeID uuid.UUID, name string) string {
	return string(scope) + "/" + scopeID.String() + "/" + name
}

func baselineKey(pipelineID uuid.UUID, key string) string {
	return pipelineID.String() + "/" + key
}

// --- ProjectStore ---

func (f *fakeStore) CreateProject(ctx context.Context, p *core.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) GetProject(ctx context.Context, id uuid.UUID) (*core.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "project", ID: id.String()}
	}
	return p, nil
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]core.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	return nil
}

// --- RepoStore ---

func (f *fakeStore) CreateRepo(ctx context.Context, r *core.Repo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	f.repos[r.ID] = r
	if r.Path != "" {
		f.repoPaths[r.Path] = r.ID
	}
	return nil
}

func (f *fakeStore) GetRepo(ctx context.Context, id uuid.UUID) (*core.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "repo", ID: id.String()}
	}
	return r, nil
}

func (f *fakeStore) GetRepoByPath(ctx context.Context, path string) (*core.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.repoPaths[path]
	if !ok {
		return nil, &core.NotFoundError{Resource: "repo", ID: path}
	}
	return f.repos[id], nil
}

func (f *fakeStore) ListRepos(ctx context.Context, projectID uuid.UUID) ([]core.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Repo
	for _, r := range f.repos {
		if r.ProjectID == projectID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteRepo(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.repos, id)
	return nil
}

// --- PipelineStore ---

func (f *fakeStore) CreatePipeline(ctx context.Context, p *core.Pipeline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	f.pipelines[p.ID] = p
	return nil
}

func (f *fakeStore) GetPipeline(ctx context.Context, id uuid.UUID) (*core.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pipelines[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "pipeline", ID: id.String()}
	}
	return p, nil
}

func (f *fakeStore) ListPipelines(ctx context.Context, repoID uuid.UUID) ([]core.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Pipeline
	for _, p := range f.pipelines {
		if p.RepoID == repoID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPipelineByName(ctx context.Context, p *core.Pipeline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.pipelines {
		if existing.RepoID == p.RepoID && existing.Name == p.Name {
			existing.Config = p.Config
			*p = *existing
			return nil
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	f.pipelines[p.ID] = p
	return nil
}

// --- RunStore ---

func (f *fakeStore) CreateRun(ctx context.Context, r *core.Run, steps []core.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = core.RunStatusPending
	}
	f.runs[r.ID] = r
	ids := make([]uuid.UUID, len(steps))
	for i := range steps {
		steps[i].ID = uuid.New()
		steps[i].RunID = r.ID
		f.steps[steps[i].ID] = &steps[i]
		ids[i] = steps[i].ID
	}
	f.stepsByRun[r.ID] = ids
	return nil
}

func (f *fakeStore) GetRun(ctx context.Context, id uuid.UUID) (*core.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "run", ID: id.String()}
	}
	return r, nil
}

func (f *fakeStore) ListRunsByPipeline(ctx context.Context, pipelineID uuid.UUID, limit, offset int) ([]core.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Run
	for _, r := range f.runs {
		if r.PipelineID == pipelineID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPendingRuns(ctx context.Context, limit int) ([]core.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Run
	for _, r := range f.runs {
		if r.Status == core.RunStatusPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) SetRunStatus(ctx context.Context, id uuid.UUID, status core.RunStatus, startedAt, finishedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return &core.NotFoundError{Resource: "run", ID: id.String()}
	}
	r.Status = status
	if startedAt != nil {
		r.StartedAt = startedAt
	}
	if finishedAt != nil {
		r.FinishedAt = finishedAt
	}
	return nil
}

// --- StepStore ---

func (f *fakeStore) ListSteps(ctx context.Context, runID uuid.UUID) ([]core.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Step
	for _, id := range f.stepsByRun[runID] {
		out = append(out, *f.steps[id])
	}
	return out, nil
}

func (f *fakeStore) GetStep(ctx context.Context, id uuid.UUID) (*core.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "step", ID: id.String()}
	}
	return s, nil
}

func (f *fakeStore) SetStepStatus(ctx context.Context, id uuid.UUID, status core.StepStatus, exitCode *int, startedAt, finishedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[id]
	if !ok {
		return &core.NotFoundError{Resource: "step", ID: id.String()}
	}
	s.Status = status
	if exitCode != nil {
		s.ExitCode = exitCode
	}
	if startedAt != nil {
		s.StartedAt = startedAt
	}
	if finishedAt != nil {
		s.FinishedAt = finishedAt
	}
	return nil
}

func (f *fakeStore) AppendStepOutput(ctx context.Context, id uuid.UUID, chunk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.steps[id]
	if !ok {
		return &core.NotFoundError{Resource: "step", ID: id.String()}
	}
	s.Output += chunk
	return nil
}

// --- MetricStore ---

func (f *fakeStore) CreateMetric(ctx context.Context, m *core.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	f.metrics = append(f.metrics, *m)
	return nil
}

func (f *fakeStore) ListMetricsByRun(ctx context.Context, runID uuid.UUID) ([]core.Metric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Metric
	for _, m := range f.metrics {
		if m.RunID == runID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- BaselineStore ---

func (f *fakeStore) UpsertBaseline(ctx context.Context, b *core.Baseline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := baselineKey(b.PipelineID, b.Key)
	if existing, ok := f.baselines[k]; ok {
		b.ID = existing.ID
	} else {
		b.ID = uuid.New()
	}
	if b.TolerancePct == 0 {
		b.TolerancePct = core.DefaultTolerancePct
	}
	b.UpdatedAt = time.Now().UTC()
	f.baselines[k] = b
	return nil
}

func (f *fakeStore) GetBaseline(ctx context.Context, pipelineID uuid.UUID, key string) (*core.Baseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.baselines[baselineKey(pipelineID, key)]
	if !ok {
		return nil, &core.NotFoundError{Resource: "baseline", ID: key}
	}
	return b, nil
}

func (f *fakeStore) ListBaselinesByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]core.Baseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Baseline
	for _, b := range f.baselines {
		if b.PipelineID == pipelineID {
			out = append(out, *b)
		}
	}
	return out, nil
}

// --- RunnerStore ---

func (f *fakeStore) CreateRunner(ctx context.Context, r *core.Runner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = core.RunnerOffline
	}
	f.runners[r.ID] = r
	if r.Token != "" {
		f.runnersByToken[r.Token] = r.ID
	}
	return nil
}

func (f *fakeStore) GetRunner(ctx context.Context, id uuid.UUID) (*core.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runners[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "runner", ID: id.String()}
	}
	return r, nil
}

func (f *fakeStore) GetRunnerByToken(ctx context.Context, token string) (*core.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.runnersByToken[token]
	if !ok {
		return nil, &core.NotFoundError{Resource: "runner", ID: "token"}
	}
	return f.runners[id], nil
}

func (f *fakeStore) ListRunners(ctx context.Context) ([]core.Runner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Runner, 0, len(f.runners))
	for _, r := range f.runners {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) TouchRunnerLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runners[id]
	if !ok {
		return &core.NotFoundError{Resource: "runner", ID: id.String()}
	}
	r.LastSeen = &at
	return nil
}

func (f *fakeStore) SetRunnerStatus(ctx context.Context, id uuid.UUID, status core.RunnerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runners[id]
	if !ok {
		return &core.NotFoundError{Resource: "runner", ID: id.String()}
	}
	r.Status = status
	return nil
}

func (f *fakeStore) ReserveRunForRunner(ctx context.Context, runID, runnerID uuid.UUID) (*core.Run, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	runner, ok := f.runners[runnerID]
	if !ok {
		return nil, 0, &core.NotFoundError{Resource: "runner", ID: runnerID.String()}
	}
	if runner.ActiveJobs >= runner.MaxConcurrency {
		return nil, 0, nil
	}
	run, ok := f.runs[runID]
	if !ok || run.Status != core.RunStatusPending {
		return nil, 0, nil
	}
	run.Status = core.RunStatusRunning
	runner.ActiveJobs++
	return run, runner.ActiveJobs, nil
}

func (f *fakeStore) DecrementActiveJobs(ctx context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runners[id]
	if !ok {
		return 0, &core.NotFoundError{Resource: "runner", ID: id.String()}
	}
	if r.ActiveJobs > 0 {
		r.ActiveJobs--
	}
	return r.ActiveJobs, nil
}

// --- SecretStore ---

func (f *fakeStore) UpsertSecret(ctx context.Context, s *core.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := secretKey(s.Scope, s.ScopeID, s.Name)
	if existing, ok := f.secrets[k]; ok {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
	} else {
		s.ID = uuid.New()
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = time.Now().UTC()
	f.secrets[k] = s
	return nil
}

func (f *fakeStore) GetSecret(ctx context.Context, scope core.SecretScope, scopeID uuid.UUID, name string) (*core.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[secretKey(scope, scopeID, name)]
	if !ok {
		return nil, &core.NotFoundError{Resource: "secret", ID: name}
	}
	return s, nil
}

func (f *fakeStore) ListSecrets(ctx context.Context, scope core.SecretScope, scopeID uuid.UUID) ([]core.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Secret
	for _, s := range f.secrets {
		if s.Scope == scope && s.ScopeID == scopeID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteSecret(ctx context.Context, scope core.SecretScope, scopeID uuid.UUID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.secrets, secretKey(scope, scopeID, name))
	return nil
}
