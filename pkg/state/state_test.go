package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	err := store.Save(ctx, "vacancies", StreamState{UpdatedAt: "2024-03-01T10:00:00.000Z"})
	require.NoError(t, err)

	st, ok, err := store.Load(ctx, "vacancies")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", st.UpdatedAt)
}

func TestFileStoreAbsentStreamMeansFirstSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	st, ok, err := store.Load(context.Background(), "candidates")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, st.UpdatedAt)
}

func TestFileStoreIsolatesStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "vacancies", StreamState{UpdatedAt: "2024-01-01T00:00:00.000Z"}))
	require.NoError(t, store.Save(ctx, "candidates", StreamState{UpdatedAt: "2024-02-01T00:00:00.000Z"}))

	st, ok, err := store.Load(ctx, "vacancies")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", st.UpdatedAt)

	st, ok, err = store.Load(ctx, "candidates")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-02-01T00:00:00.000Z", st.UpdatedAt)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	first := NewFileStore(path)
	require.NoError(t, first.Save(ctx, "vacancies", StreamState{UpdatedAt: "2024-03-01T10:00:00.000Z"}))
	require.NoError(t, first.Close(ctx))

	second := NewFileStore(path)
	st, ok, err := second.Load(ctx, "vacancies")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", st.UpdatedAt)
}

func TestFileStoreOverwriteAdvancesMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "vacancies", StreamState{UpdatedAt: "2024-01-01T00:00:00.000Z"}))
	require.NoError(t, store.Save(ctx, "vacancies", StreamState{UpdatedAt: "2024-06-01T00:00:00.000Z"}))

	st, ok, err := store.Load(ctx, "vacancies")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-06-01T00:00:00.000Z", st.UpdatedAt)

	// No temp files left behind after the rename.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	store := NewFileStore(path)

	err := store.Save(context.Background(), "vacancies", StreamState{UpdatedAt: "2024-03-01T10:00:00.000Z"})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewFileStore(path)
	_, _, err := store.Load(context.Background(), "vacancies")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}
