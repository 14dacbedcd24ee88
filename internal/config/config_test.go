package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 500, cfg.VectorStore.ChunkSize)
	assert.Equal(t, 5, cfg.VectorStore.TopK)
	assert.InDelta(t, 0.3, cfg.VectorStore.SimilarityThreshold, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cfg.Crawler.Delay)
	assert.Equal(t, 10*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, "rus+eng", cfg.OCR.Languages)
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.False(t, cfg.Normalizer.RemoveStopWords)
	assert.Equal(t, int64(50*1024*1024), cfg.Document.MaxFileSize())
	assert.Equal(t, 10, cfg.Chat.MaxSessionTurns)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
crawler:
  max_links: 7
  delay: 250ms
normalizer:
  remove_stopwords: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Crawler.MaxLinks)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.Delay)
	assert.True(t, cfg.Normalizer.RemoveStopWords)
	// 未覆盖的键保持默认值
	assert.Equal(t, 2, cfg.Crawler.MaxDepth)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
