package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/internal/config"
)

func TestHashClientDeterministic(t *testing.T) {
	c := NewHashClient(64)
	ctx := context.Background()

	a, err := c.CreateEmbeddings(ctx, []string{"the cat sat", "the cat sat", "quantum physics"})
	require.NoError(t, err)
	require.Len(t, a, 3)
	assert.Len(t, a[0], 64)
	assert.Equal(t, a[0], a[1])
	assert.NotEqual(t, a[0], a[2])
	assert.Equal(t, "feature-hash-64", c.Model())
}

func TestHashClientEmptyTextNonZero(t *testing.T) {
	v, err := CreateEmbedding(context.Background(), NewHashClient(8), "")
	require.NoError(t, err)
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	assert.Greater(t, norm, float32(0))
}

func TestOpenAICompatibleClientBatches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		// 倒序返回，客户端需要按 index 重排
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, APIKey: "k", Model: "m", BatchSize: 2})
	vectors, err := c.CreateEmbeddings(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
	assert.Equal(t, 2, calls)
}

func TestOpenAICompatibleClientNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, BatchSize: 4})
	_, err := c.CreateEmbeddings(context.Background(), []string{"x"})
	assert.Error(t, err)
}
