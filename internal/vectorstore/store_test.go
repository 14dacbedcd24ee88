package vectorstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/pkg/embedding"
)

type failingEmbedder struct{}

func (failingEmbedder) CreateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (failingEmbedder) Model() string { return "failing" }

func TestSearchEmptyStore(t *testing.T) {
	s := New("", embedding.NewHashClient(64), Options{})
	results, err := s.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestAddAndSearch(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "index"), embedding.NewHashClient(128), Options{})

	require.NoError(t, s.Add(ctx, []string{"the cat sat"}, "f"))
	results, err := s.Search(ctx, "the cat sat", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "f", results[0].Filename)
	assert.Equal(t, "f#0", results[0].ChunkID)
	assert.Equal(t, "the cat sat", results[0].Text)
	assert.Greater(t, results[0].Similarity, DefaultThreshold)
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	s := New("", embedding.NewHashClient(256), Options{Threshold: 0.3})
	require.NoError(t, s.Add(ctx, []string{
		"shipping and delivery times for orders",
		"our office opening hours are nine to five",
		"delivery of orders takes three days",
	}, "site"))

	results, err := s.Search(ctx, "delivery of orders", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
	for _, r := range results {
		assert.Greater(t, r.Similarity, 0.3)
	}
	assert.Equal(t, "delivery of orders takes three days", results[0].Text)
}

func TestDocIDsStayUniqueAcrossAdds(t *testing.T) {
	ctx := context.Background()
	s := New("", embedding.NewHashClient(32), Options{})
	require.NoError(t, s.Add(ctx, []string{"a b", "c d"}, "f"))
	require.NoError(t, s.Add(ctx, []string{"e f"}, "f"))
	require.NoError(t, s.Add(ctx, []string{"g h"}, "g"))

	assert.Equal(t, 4, s.Size())
	assert.Equal(t, []string{"f#0", "f#1", "f#2", "g#0"}, s.mapping)
	assert.Equal(t, []string{"f", "g"}, s.Filenames())
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	embedder := embedding.NewHashClient(128)

	s := New(dir, embedder, Options{})
	require.NoError(t, s.Add(ctx, Chunk("Cats like milk. Dogs like bones. Birds like seeds", 20), "doc"))
	before, err := s.Search(ctx, "dogs like bones", 3)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	for _, name := range []string{vectorsFile, chunksFile, mappingFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	reloaded := Open(dir, embedder, Options{})
	assert.False(t, reloaded.Recovered())
	assert.Equal(t, s.Size(), reloaded.Size())
	after, err := reloaded.Search(ctx, "dogs like bones", 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpenMissingIndexIsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nothing"), embedding.NewHashClient(16), Options{})
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.Recovered())
}

func TestOpenInconsistentIndexRecovers(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	embedder := embedding.NewHashClient(16)

	s := New(dir, embedder, Options{})
	require.NoError(t, s.Add(ctx, []string{"one", "two"}, "f"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, mappingFile), []byte(`["f#0"]`), 0o644))

	reloaded := Open(dir, embedder, Options{})
	assert.True(t, reloaded.Recovered())
	assert.Equal(t, 0, reloaded.Size())
}

func TestOpenRestoresIndexLeftAside(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	embedder := embedding.NewHashClient(16)

	s := New(dir, embedder, Options{})
	require.NoError(t, s.Add(ctx, []string{"one"}, "f"))
	// 模拟替换目录时崩溃：只剩 index.old
	require.NoError(t, os.Rename(dir, dir+".old"))

	reloaded := Open(dir, embedder, Options{})
	assert.Equal(t, 1, reloaded.Size())
}

func TestAddEmbeddingFailureLeavesStoreUnchanged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	s := New(dir, failingEmbedder{}, Options{})
	err := s.Add(context.Background(), []string{"text"}, "f")
	assert.Error(t, err)
	assert.Equal(t, 0, s.Size())
	assert.NoDirExists(t, dir)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	s := New(dir, embedding.NewHashClient(16), Options{})
	require.NoError(t, s.Add(ctx, []string{"one"}, "f"))
	require.NoError(t, s.Reset())
	assert.Equal(t, 0, s.Size())
	assert.NoDirExists(t, dir)
}
