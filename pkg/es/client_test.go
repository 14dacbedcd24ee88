package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/internal/config"
	"sitebot-go/internal/model"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeES 模拟 Elasticsearch 的少量接口。客户端要求响应带 X-Elastic-Product 头。
func fakeES(t *testing.T, indexExists bool) (*httptest.Server, *[]recordedRequest) {
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{r.Method, r.URL.Path, string(body)})
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodHead:
			if indexExists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_score":1.5,"_source":{"item_id":7,"project_id":"p1","data_type":"text","content":"delivery terms","source":"https://example.com"}}
			]}}`))
		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			_, _ = w.Write([]byte(`{"deleted":1}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestNewClientCreatesMissingIndex(t *testing.T) {
	srv, requests := fakeES(t, false)
	_, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "items"})
	require.NoError(t, err)

	require.Len(t, *requests, 2)
	assert.Equal(t, http.MethodPut, (*requests)[1].Method)
	assert.Equal(t, "/items", (*requests)[1].Path)
	assert.Contains(t, (*requests)[1].Body, `"project_id": { "type": "keyword" }`)
}

func TestIndexSearchDelete(t *testing.T) {
	srv, requests := fakeES(t, true)
	c, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "items"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.IndexItems(ctx, []model.EsItemDocument{
		{ItemID: 7, ProjectID: "p1", DataType: "text", Content: "delivery terms"},
	}))
	bulk := (*requests)[len(*requests)-1]
	lines := strings.Split(strings.TrimSpace(bulk.Body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"_id":"p1-7"`)

	results, err := c.SearchItems(ctx, ItemQuery{
		ProjectID: "p1", Text: "Delivery", NormalizedText: "deliveri", DataType: "text", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint(7), results[0].ItemID)
	assert.Equal(t, 1.5, results[0].Score)

	search := (*requests)[len(*requests)-1]
	var q map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(search.Body), &q))
	assert.EqualValues(t, 10, q["size"])
	assert.Contains(t, search.Body, `"project_id":"p1"`)
	assert.Contains(t, search.Body, `"data_type":"text"`)
	assert.Contains(t, search.Body, `"query":"deliveri"`)

	require.NoError(t, c.DeleteProject(ctx, "p1"))
	del := (*requests)[len(*requests)-1]
	assert.Equal(t, "/items/_delete_by_query", del.Path)
	assert.Contains(t, del.Body, `"p1"`)
}
