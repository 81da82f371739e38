package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/pushtrigger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleGitReceiveUnknownPathReturnsNotFound(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)
	s.PushTrigger = pushtrigger.New(store, &fakeGit{sha: "abc"})

	router := chi.NewRouter()
	router.Post("/git/*", s.handleGitReceive)

	body, _ := json.Marshal(gitReceiveRequest{Updates: []refUpdateRequest{{NewRev: "abc", RefName: "refs/heads/main"}}})
	req := httptest.NewRequest(http.MethodPost, "/git/does-not-exist/receive", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGitReceiveDelegatesToPushTrigger(t *testing.T) {
	store := newFakeStore()
	repo := &core.Repo{ProjectID: uuid.New(), Name: "app", Path: "repos/app.git", DefaultBranch: "main"}
	require.NoError(t, store.CreateRepo(context.Background(), repo))
	manifest := []byte(`{"name":"build","steps":[{"name":"build","run":"make"}]}`)
	pipeline := &core.Pipeline{RepoID: repo.ID, Name: "build", Config: manifest}
	require.NoError(t, store.CreatePipeline(context.Background(), pipeline))

	s := newTestServer(t, store)
	s.PushTrigger = pushtrigger.New(store, &fakeGit{sha: "abc123", file: manifest})

	router := chi.NewRouter()
	router.Post("/git/*", s.handleGitReceive)

	body, _ := json.Marshal(gitReceiveRequest{Updates: []refUpdateRequest{
		{OldRev: "000", NewRev: "abc123", RefName: "refs/heads/main"},
	}})
	req := httptest.NewRequest(http.MethodPost, "/git/repos/app.git/receive", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	runs, err := store.ListRunsByPipeline(context.Background(), pipeline.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "abc123", runs[0].CommitSHA)
	assert.Equal(t, core.TriggerPush, runs[0].TriggeredBy)
}

func TestHandleGitReceiveRejectsInvalidBody(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store)
	s.PushTrigger = pushtrigger.New(store, &fakeGit{sha: "abc"})

	router := chi.NewRouter()
	router.Post("/git/*", s.handleGitReceive)

	req := httptest.NewRequest(http.MethodPost, "/git/repos/app.git/receive", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
