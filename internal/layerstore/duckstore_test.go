// duckstore_test.go - Tests for the DuckDB layer index
package layerstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/print-resume/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func h(v float64) *float64 {
	return &v
}

func testIndex() *models.LayerIndex {
	return &models.LayerIndex{
		FileID: "file-1",
		Lines:  40,
		Markers: []models.LayerMarker{
			{LineIndex: 3, Dialect: "layer_change"},
			{LineIndex: 5, Height: h(0.2), Dialect: "z_comment"},
			{LineIndex: 12, Height: h(0.4), Dialect: "z_comment"},
			{LineIndex: 20, Height: h(0.6), Dialect: "z_comment"},
		},
		Motion: []models.MotionZValue{
			{LineIndex: 7, Z: 0.2},
			{LineIndex: 14, Z: 0.4},
			{LineIndex: 22, Z: 0.6},
		},
	}
}

func createTestStore(t *testing.T) *DuckStore {
	t.Helper()
	ds, err := Create(filepath.Join(t.TempDir(), "file_test.duckdb"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	require.NoError(t, ds.Write(context.Background(), testIndex()))
	return ds
}

func TestDuckStore_RoundTrip(t *testing.T) {
	ds := createTestStore(t)

	idx, err := ds.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testIndex(), idx)
}

func TestDuckStore_FirstMarkerAtOrAbove(t *testing.T) {
	ds := createTestStore(t)
	ctx := context.Background()

	m, err := ds.FirstMarkerAtOrAbove(ctx, 0.3)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 12, m.LineIndex)

	m, err = ds.FirstMarkerAtOrAbove(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 5, m.LineIndex)

	m, err = ds.FirstMarkerAtOrAbove(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestDuckStore_HeightRange(t *testing.T) {
	ds := createTestStore(t)

	lo, hi, ok, err := ds.HeightRange(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.2, lo)
	assert.Equal(t, 0.6, hi)
}

func TestDuckStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file_reopen.duckdb")
	ds, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, ds.Write(context.Background(), testIndex()))
	require.NoError(t, ds.Close())

	reopened, err := Open(path, Options{Threads: 1})
	require.NoError(t, err)
	defer reopened.Close()

	layers, err := reopened.Layers(context.Background())
	require.NoError(t, err)
	assert.Len(t, layers, 4)
	assert.False(t, layers[0].HasHeight())
}

func TestDuckStore_OpenIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file_partial.duckdb")
	ds, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	_, err = Open(path, Options{})
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.duckdb"), Options{})
	assert.True(t, os.IsNotExist(err))
}

func TestDuckStore_EmptyIndex(t *testing.T) {
	ds, err := Create(filepath.Join(t.TempDir(), "file_empty.duckdb"), Options{})
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.Write(context.Background(), &models.LayerIndex{FileID: "empty"}))

	idx, err := ds.Index(context.Background())
	require.NoError(t, err)
	assert.Empty(t, idx.Markers)
	assert.Empty(t, idx.Motion)

	_, _, ok, err := ds.HeightRange(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
