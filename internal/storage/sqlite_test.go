//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"neuroevo/internal/model"
)

func TestSQLiteStore(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "neuroevo.db"))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store, true)
}

func TestSQLiteStoreReplacesGenerationSummary(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "neuroevo.db"))
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() {
		_ = store.Close()
	})

	require.NoError(t, store.AppendGenerationSummary(ctx, "r", model.GenerationSummary{Generation: 1, BestFitness: 1}))
	require.NoError(t, store.AppendGenerationSummary(ctx, "r", model.GenerationSummary{Generation: 1, BestFitness: 2}))

	history, ok, err := store.GetGenerationSummaries(ctx, "r")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, history, 1)
	require.Equal(t, 2.0, history[0].BestFitness)
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "neuroevo.db"))
	_, _, err := store.GetRun(context.Background(), "r")
	require.Error(t, err)
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "neuroevo.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, CloseIfSupported(store))
}
