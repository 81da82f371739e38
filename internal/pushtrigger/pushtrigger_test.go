package pushtrigger

import (
	"context"
	"sync"
	"testing"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/gitadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	core.Store

	mu        sync.Mutex
	pipelines map[string]*core.Pipeline // keyed by repoID+name
	runs      []core.Run
}

func newFakeStore() *fakeStore {
	return &fakeStore{pipelines: make(map[string]*core.Pipeline)}
}

func (f *fakeStore) UpsertPipelineByName(ctx context.Context, p *core.Pipeline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := p.RepoID.String() + "/" + p.Name
	if existing, ok := f.pipelines[key]; ok {
		existing.Config = p.Config
		existing.NextRunAt = p.NextRunAt
		*p = *existing
		return nil
	}
	p.ID = uuid.New()
	f.pipelines[key] = p
	return nil
}

func (f *fakeStore) CreateRun(ctx context.Context, r *core.Run, steps []core.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	f.runs = append(f.runs, *r)
	return nil
}

type fakeGit struct {
	files map[string][]byte
}

func (g *fakeGit) ResolveHead(ctx context.Context, repoPath, branch string) (string, error) {
	return "", gitadapter.ErrRefNotFound
}

func (g *fakeGit) ReadFileAtRef(ctx context.Context, repoPath, ref, path string) ([]byte, error) {
	content, ok := g.files[ref+":"+path]
	if !ok {
		return nil, gitadapter.ErrRefNotFound
	}
	return content, nil
}

const manifest = `{"name":"build","triggers":{"push":{"branches":["main"]}},"steps":[{"name":"build","run":"go build ./..."}]}`

func TestHandlePushFiresRunOnMatchingBranch(t *testing.T) {
	store := newFakeStore()
	git := &fakeGit{files: map[string][]byte{"commit1:.eifl.json": []byte(manifest)}}
	trig := New(store, git)
	repo := &core.Repo{ID: uuid.New(), Path: "/tmp/repo"}

	trig.HandlePush(context.Background(), repo, []RefUpdate{
		{OldRev: ZeroOID, NewRev: "commit1", RefName: "refs/heads/main"},
	})

	require.Len(t, store.runs, 1)
	assert.Equal(t, core.TriggerPush, store.runs[0].TriggeredBy)
	assert.Equal(t, "commit1", store.runs[0].CommitSHA)
	assert.Equal(t, "main", store.runs[0].Branch)
}

func TestHandlePushSkipsNonMatchingBranch(t *testing.T) {
	store := newFakeStore()
	git := &fakeGit{files: map[string][]byte{"commit1:.eifl.json": []byte(manifest)}}
	trig := New(store, git)
	repo := &core.Repo{ID: uuid.New(), Path: "/tmp/repo"}

	trig.HandlePush(context.Background(), repo, []RefUpdate{
		{OldRev: ZeroOID, NewRev: "commit1", RefName: "refs/heads/feature-x"},
	})

	assert.Empty(t, store.runs)
}

func TestHandlePushSkipsBranchDeletion(t *testing.T) {
	store := newFakeStore()
	git := &fakeGit{}
	trig := New(store, git)
	repo := &core.Repo{ID: uuid.New(), Path: "/tmp/repo"}

	trig.HandlePush(context.Background(), repo, []RefUpdate{
		{OldRev: "commit1", NewRev: ZeroOID, RefName: "refs/heads/main"},
	})

	assert.Empty(t, store.runs)
}

func TestHandlePushSkipsMissingManifest(t *testing.T) {
	store := newFakeStore()
	git := &fakeGit{files: map[string][]byte{}}
	trig := New(store, git)
	repo := &core.Repo{ID: uuid.New(), Path: "/tmp/repo"}

	trig.HandlePush(context.Background(), repo, []RefUpdate{
		{OldRev: ZeroOID, NewRev: "commit1", RefName: "refs/heads/main"},
	})

	assert.Empty(t, store.runs)
}

func TestHandlePushUpsertsSamePipelineAcrossPushes(t *testing.T) {
	store := newFakeStore()
	git := &fakeGit{files: map[string][]byte{
		"commit1:.eifl.json": []byte(manifest),
		"commit2:.eifl.json": []byte(manifest),
	}}
	trig := New(store, git)
	repo := &core.Repo{ID: uuid.New(), Path: "/tmp/repo"}

	trig.HandlePush(context.Background(), repo, []RefUpdate{{OldRev: ZeroOID, NewRev: "commit1", RefName: "refs/heads/main"}})
	trig.HandlePush(context.Background(), repo, []RefUpdate{{OldRev: "commit1", NewRev: "commit2", RefName: "refs/heads/main"}})

	require.Len(t, store.runs, 2, "each push is an independent event, no duplicate-suppression")
	assert.Equal(t, store.runs[0].PipelineID, store.runs[1].PipelineID)
}
