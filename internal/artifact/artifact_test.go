package artifact_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/internal/artifact"
)

func TestCache_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	cache, err := artifact.NewCache(t.TempDir(), false)
	require.NoError(t, err)

	doc := []byte(`{"0":{"dir":"0","hash":["abc"]}}`)

	path, err := cache.SavePaths(7, doc)
	require.NoError(t, err)
	assert.Equal(t, "batch_7_paths.json", filepath.Base(path))

	loaded, err := cache.LoadPaths(7)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	// Plain JSON is stored verbatim.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc, raw)
}

func TestCache_LZ4RoundTrip(t *testing.T) {
	t.Parallel()

	cache, err := artifact.NewCache(t.TempDir(), true)
	require.NoError(t, err)

	doc := []byte(`{"1":{"dir":"10","hash":["aa","bb"]}}`)

	path, err := cache.SavePaths(3, doc)
	require.NoError(t, err)
	assert.Equal(t, "batch_3_paths.json.lz4", filepath.Base(path))

	loaded, err := cache.LoadPaths(3)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, doc, raw, "stored bytes must be compressed")
}

func TestCache_OverwriteIsIdempotent(t *testing.T) {
	t.Parallel()

	cache, err := artifact.NewCache(t.TempDir(), false)
	require.NoError(t, err)

	doc := []byte(`{"0":{}}`)

	_, err = cache.SavePaths(1, doc)
	require.NoError(t, err)
	_, err = cache.SavePaths(1, doc)
	require.NoError(t, err)

	loaded, err := cache.LoadPaths(1)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)
}

func TestCache_MissingBatch(t *testing.T) {
	t.Parallel()

	cache, err := artifact.NewCache(t.TempDir(), false)
	require.NoError(t, err)

	_, err = cache.LoadPaths(99)
	assert.Error(t, err)
}
