// Package pushtrigger enqueues a run whenever a Git push updates a branch
// whose manifest opts in. It is invoked synchronously from the Git push
// ingress hook (POST /git/*/receive in internal/httpapi), which receives the
// ref updates of a push the repository has already accepted.
package pushtrigger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/gitadapter"
)

// ZeroOID is the all-zeros object ID Git uses to signal a branch deletion.
const ZeroOID = "0000000000000000000000000000000000000000"

const manifestPath = ".eifl.json"

// RefUpdate is one line of a Git receive-pack command list.
type RefUpdate struct {
	OldRev  string
	NewRev  string
	RefName string
}

// Trigger evaluates ref updates from a push and enqueues runs.
type Trigger struct {
	store core.Store
	git   gitadapter.Adapter
}

// New creates a Trigger.
func New(store core.Store, git gitadapter.Adapter) *Trigger {
	return &Trigger{store: store, git: git}
}

// HandlePush processes every ref update from one push. Failures on one
// update are logged and do not block the others.
func (t *Trigger) HandlePush(ctx context.Context, repo *core.Repo, updates []RefUpdate) {
	for _, u := range updates {
		if err := t.handleOne(ctx, repo, u); err != nil {
			slog.Warn("pushtrigger: failed to process ref update", "repo_id", repo.ID, "ref", u.RefName, "error", err)
		}
	}
}

func (t *Trigger) handleOne(ctx context.Context, repo *core.Repo, u RefUpdate) error {
	if u.NewRev == "" || u.NewRev == ZeroOID {
		return nil // branch deletion, nothing to trigger
	}
	branch, ok := strings.CutPrefix(u.RefName, "refs/heads/")
	if !ok {
		return nil // tag or other non-branch ref
	}

	raw, err := t.git.ReadFileAtRef(ctx, repo.Path, u.NewRev, manifestPath)
	if err != nil {
		if errors.Is(err, gitadapter.ErrRefNotFound) {
			slog.Debug("pushtrigger: no manifest at pushed commit, skipping", "repo_id", repo.ID, "commit", u.NewRev)
			return nil
		}
		return err
	}

	manifest, err := core.ParseManifest(raw)
	if err != nil {
		return err
	}

	if !core.ShouldTriggerOnPush(manifest, branch) {
		return nil
	}

	pipeline := &core.Pipeline{RepoID: repo.ID, Name: manifest.Name, Config: json.RawMessage(raw)}
	if manifest.Triggers != nil && len(manifest.Triggers.Schedule) > 0 {
		if next, ok, _ := core.EarliestNextRun(manifest.Triggers.Schedule, time.Now().UTC()); ok {
			pipeline.NextRunAt = &next
		}
	}
	if err := t.store.UpsertPipelineByName(ctx, pipeline); err != nil {
		return err
	}

	run := &core.Run{
		PipelineID:  pipeline.ID,
		Status:      core.RunStatusPending,
		CommitSHA:   u.NewRev,
		Branch:      branch,
		TriggeredBy: core.TriggerPush,
	}
	steps := make([]core.Step, len(manifest.Steps))
	for i, ms := range manifest.Steps {
		steps[i] = core.Step{Name: ms.Name, Command: ms.Run, Status: core.StepStatusPending}
	}

	if err := t.store.CreateRun(ctx, run, steps); err != nil {
		return err
	}

	slog.Info("pushtrigger: fired run", "repo_id", repo.ID, "pipeline_id", pipeline.ID, "run_id", run.ID, "branch", branch)
	return nil
}
