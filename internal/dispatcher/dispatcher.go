// Package dispatcher implements the runner poll critical section (spec
// §4.H): select a pending run the polling runner is eligible for, reserve it
// atomically, and materialize a job payload.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/eifl-ci/eifl/internal/cache"
	"github.com/eifl-ci/eifl/internal/core"
	"github.com/google/uuid"
)

// candidatePoolSize bounds how many pending runs a single poll inspects
// before giving up. Pending runs beyond this are retried on the next poll.
const candidatePoolSize = 50

// Job is the payload returned to a runner (spec §6).
type Job struct {
	Run            *core.Run         `json:"run"`
	Steps          []core.Step       `json:"steps"`
	RepoURL        string            `json:"repoUrl"`
	CommitSHA      string            `json:"commitSha"`
	Branch         string            `json:"branch"`
	PipelineConfig *core.Manifest    `json:"pipelineConfig"`
	Secrets        map[string]string `json:"secrets"`
}

// Dispatcher serves authenticated runner polls. One instance is shared
// across all incoming poll requests.
type Dispatcher struct {
	store       core.Store
	crypto      *core.Crypto
	urlCache    *cache.Cache[uuid.UUID, string]
	githubToken string
}

// New creates a Dispatcher. githubToken may be empty, in which case
// remote_url values are used verbatim with no injected credentials.
func New(store core.Store, crypto *core.Crypto, githubToken string) *Dispatcher {
	return &Dispatcher{
		store:       store,
		crypto:      crypto,
		urlCache:    cache.New[uuid.UUID, string](cache.Options{TTL: cache.DefaultTTL}),
		githubToken: githubToken,
	}
}

// NewFromEnv reads GITHUB_TOKEN from the environment, matching the teacher's
// convention of resolving adapter credentials at construction time rather
// than on every call.
func NewFromEnv(store core.Store, crypto *core.Crypto) *Dispatcher {
	return New(store, crypto, os.Getenv("GITHUB_TOKEN"))
}

// Poll runs the full spec §4.H algorithm for a single polling runner.
// Returns (nil, nil) when there is no eligible job right now — this is not
// an error, it is the steady-state "nothing to do" response.
func (d *Dispatcher) Poll(ctx context.Context, runnerID uuid.UUID) (*Job, error) {
	now := time.Now().UTC()
	if err := d.store.TouchRunnerLastSeen(ctx, runnerID, now); err != nil {
		return nil, &core.StoreError{Op: "touch runner last seen", Err: err}
	}

	runner, err := d.store.GetRunner(ctx, runnerID)
	if err != nil {
		return nil, err
	}
	if runner.ActiveJobs >= runner.MaxConcurrency {
		return nil, nil
	}

	pending, err := d.store.ListPendingRuns(ctx, candidatePoolSize)
	if err != nil {
		return nil, &core.StoreError{Op: "list pending runs", Err: err}
	}

	for _, candidate := range pending {
		job, err := d.tryDispatch(ctx, runner, candidate)
		if err != nil {
			slog.Error("dispatcher: candidate dispatch failed", "run_id", candidate.ID, "error", err)
			continue
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

// tryDispatch attempts to reserve one candidate run for runner. Returns
// (nil, nil) when the run is ineligible (tag mismatch) or was already taken
// by a concurrent poll — both are "try the next candidate", not errors.
func (d *Dispatcher) tryDispatch(ctx context.Context, runner *core.Runner, candidate core.Run) (*Job, error) {
	pipeline, err := d.store.GetPipeline(ctx, candidate.PipelineID)
	if err != nil {
		return nil, err
	}
	manifest, err := core.ParseManifest(pipeline.Config)
	if err != nil {
		return nil, err
	}
	if !runner.HasTags(manifest.RunnerTags) {
		return nil, nil
	}

	run, newActive, err := d.store.ReserveRunForRunner(ctx, candidate.ID, runner.ID)
	if err != nil {
		return nil, &core.StoreError{Op: "reserve run for runner", Err: err}
	}
	if run == nil {
		return nil, nil
	}

	status := core.RunnerOnline
	if newActive >= runner.MaxConcurrency {
		status = core.RunnerBusy
	}
	if err := d.store.SetRunnerStatus(ctx, runner.ID, status); err != nil {
		return nil, &core.StoreError{Op: "set runner status", Err: err}
	}

	steps, err := d.store.ListSteps(ctx, run.ID)
	if err != nil {
		return nil, &core.StoreError{Op: "list steps", Err: err}
	}

	repo, err := d.store.GetRepo(ctx, pipeline.RepoID)
	if err != nil {
		return nil, err
	}
	repoURL := d.resolveRepoURL(repo)

	secrets := d.mergeSecrets(ctx, pipeline.RepoID, repo.ProjectID)

	return &Job{
		Run:            run,
		Steps:          steps,
		RepoURL:        repoURL,
		CommitSHA:      run.CommitSHA,
		Branch:         run.Branch,
		PipelineConfig: manifest,
		Secrets:        secrets,
	}, nil
}

// resolveRepoURL implements spec §4.H step 6, caching the resolved,
// credential-injected URL per repo so a GitHub token isn't re-spliced on
// every poll.
func (d *Dispatcher) resolveRepoURL(repo *core.Repo) string {
	if repo.RemoteURL == "" {
		return "/git/" + repo.Path
	}
	if cached, ok := d.urlCache.Get(repo.ID); ok {
		return cached
	}

	url := repo.RemoteURL
	if d.githubToken != "" && strings.Contains(url, "github.com") {
		if after, ok := strings.CutPrefix(url, "https://"); ok {
			url = fmt.Sprintf("https://oauth2:%s@%s", d.githubToken, after)
		}
	}
	d.urlCache.Set(repo.ID, url)
	return url
}

// mergeSecrets implements spec §4.H step 7: project-scoped secrets first,
// repo-scoped secrets override by name. A secret that fails to decrypt is
// logged and skipped, never fails the whole payload.
func (d *Dispatcher) mergeSecrets(ctx context.Context, repoID, projectID uuid.UUID) map[string]string {
	merged := make(map[string]string)

	projectSecrets, err := d.store.ListSecrets(ctx, core.SecretScopeProject, projectID)
	if err != nil {
		slog.Warn("dispatcher: failed to list project secrets", "project_id", projectID, "error", err)
	}
	for _, s := range projectSecrets {
		d.decryptInto(merged, s)
	}

	repoSecrets, err := d.store.ListSecrets(ctx, core.SecretScopeRepo, repoID)
	if err != nil {
		slog.Warn("dispatcher: failed to list repo secrets", "repo_id", repoID, "error", err)
	}
	for _, s := range repoSecrets {
		d.decryptInto(merged, s)
	}

	return merged
}

func (d *Dispatcher) decryptInto(merged map[string]string, s core.Secret) {
	plaintext, err := d.crypto.Decrypt(s.Name, s.EncryptedValue, s.IV)
	if err != nil {
		slog.Warn("dispatcher: secret omitted from job payload", "secret", s.Name, "error", err)
		return
	}
	merged[s.Name] = plaintext
}
