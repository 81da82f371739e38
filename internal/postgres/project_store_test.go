package postgres_test

import (
	"context"
	"testing"

	"github.com/eifl-ci/eifl/internal/core"
	"github.com/eifl-ci/eifl/internal/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectStoreCreateAndGet(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewProjectStore(pool)
	ctx := context.Background()

	p := &core.Project{Name: "infra", Description: "infra pipelines"}
	require.NoError(t, store.CreateProject(ctx, p))
	assert.NotEmpty(t, p.ID)

	got, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "infra", got.Name)
}

func TestProjectStoreDuplicateNameConflicts(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewProjectStore(pool)
	ctx := context.Background()

	require.NoError(t, store.CreateProject(ctx, &core.Project{Name: "dup"}))
	err := store.CreateProject(ctx, &core.Project{Name: "dup"})
	require.Error(t, err)
	var conflict *core.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestProjectStoreGetMissingIsNotFound(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewProjectStore(pool)

	_, err := store.GetProject(context.Background(), core.Project{}.ID)
	require.Error(t, err)
	var notFound *core.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
