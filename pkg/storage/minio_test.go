package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	uploads map[string]string
}

func (r *recordingStore) UploadFile(_ context.Context, objectName, filePath string) error {
	r.uploads[objectName] = filePath
	return nil
}

func (r *recordingStore) RemovePrefix(context.Context, string) error { return nil }

func (r *recordingStore) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func TestObjectNames(t *testing.T) {
	assert.Equal(t, "projects/p1/", ProjectPrefix("p1"))
	assert.Equal(t, "projects/p1/documents/terms.pdf", DocumentObject("p1", "/tmp/x/terms.pdf"))
	assert.Equal(t, "projects/p1/index/vectors.bin", IndexObject("p1", "vectors.bin"))
}

func TestUploadDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"vectors.bin", "chunks.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	store := &recordingStore{uploads: map[string]string{}}
	require.NoError(t, UploadDir(context.Background(), store, dir, func(f string) string { return IndexObject("p1", f) }))

	var names []string
	for k := range store.uploads {
		names = append(names, k)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"projects/p1/index/chunks.json", "projects/p1/index/vectors.bin"}, names)
}
