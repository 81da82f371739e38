// Package scheduler evaluates pipeline cron schedules and fires runs. It
// runs as a background goroutine inside eifld, ticking at a configurable
// interval (default 60s) and once at startup.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/gitadapter"
)

// Scheduler checks pipelines due for their next scheduled run and fires
// them, one run per pipeline per tick.
type Scheduler struct {
	store    core.Store
	git      gitadapter.Adapter
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Scheduler.
func New(store core.Store, git gitadapter.Adapter, interval time.Duration) *Scheduler {
	return &Scheduler{store: store, git: git, interval: interval}
}

// Start begins the background scheduler goroutine, ticking immediately and
// then every interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.tick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	pipelines, err := s.store.GetPipelinesDue(ctx, now)
	if err != nil {
		slog.Error("scheduler: failed to list due pipelines", "error", err)
		return
	}

	for _, pipeline := range pipelines {
		s.firePipeline(ctx, pipeline, now)
	}
}

func (s *Scheduler) firePipeline(ctx context.Context, pipeline core.Pipeline, now time.Time) {
	manifest, err := core.ParseManifest(pipeline.Config)
	if err != nil {
		slog.Warn("scheduler: invalid manifest, skipping", "pipeline_id", pipeline.ID, "error", err)
		return
	}

	// This must run before run creation below: it closes the window where a
	// slow or overlapping tick would otherwise refire the same pipeline twice.
	if manifest.Triggers != nil && len(manifest.Triggers.Schedule) > 0 {
		next, ok, invalid := core.EarliestNextRun(manifest.Triggers.Schedule, now)
		for _, ierr := range invalid {
			slog.Warn("scheduler: invalid cron expression, skipping entry", "pipeline_id", pipeline.ID, "error", ierr)
		}
		var nextPtr *time.Time
		if ok {
			nextPtr = &next
		}
		if err := s.store.SetNextRunAt(ctx, pipeline.ID, nextPtr); err != nil {
			slog.Error("scheduler: failed to advance next_run_at", "pipeline_id", pipeline.ID, "error", err)
			return
		}
	} else {
		if err := s.store.SetNextRunAt(ctx, pipeline.ID, nil); err != nil {
			slog.Error("scheduler: failed to clear next_run_at", "pipeline_id", pipeline.ID, "error", err)
			return
		}
	}

	repo, err := s.store.GetRepo(ctx, pipeline.RepoID)
	if err != nil {
		slog.Error("scheduler: failed to load repo", "pipeline_id", pipeline.ID, "error", err)
		return
	}

	sha, err := s.git.ResolveHead(ctx, repo.Path, repo.DefaultBranch)
	if err != nil {
		slog.Warn("scheduler: could not resolve default branch HEAD, skipping", "pipeline_id", pipeline.ID, "repo_id", repo.ID, "error", err)
		return
	}

	active, err := s.store.HasPendingOrRunningRun(ctx, pipeline.ID)
	if err != nil {
		slog.Error("scheduler: failed to check active runs", "pipeline_id", pipeline.ID, "error", err)
		return
	}
	if active {
		slog.Debug("scheduler: pipeline already has an active run, skipping creation", "pipeline_id", pipeline.ID)
		return
	}

	run := &core.Run{
		PipelineID:  pipeline.ID,
		Status:      core.RunStatusPending,
		CommitSHA:   sha,
		Branch:      repo.DefaultBranch,
		TriggeredBy: core.TriggerSchedule,
	}
	steps := make([]core.Step, len(manifest.Steps))
	for i, ms := range manifest.Steps {
		steps[i] = core.Step{Name: ms.Name, Command: ms.Run, Status: core.StepStatusPending}
	}

	if err := s.store.CreateRun(ctx, run, steps); err != nil {
		slog.Error("scheduler: failed to create run", "pipeline_id", pipeline.ID, "error", err)
		return
	}

	slog.Info("scheduler: fired run", "pipeline_id", pipeline.ID, "run_id", run.ID, "commit_sha", sha)
}
