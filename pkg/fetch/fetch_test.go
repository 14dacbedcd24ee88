package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<p>%s</p>", r.UserAgent())
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/file.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "plain file")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGet(t *testing.T) {
	srv := newServer(t)
	f := New(5*time.Second, "TestBot/1.0")
	ctx := context.Background()

	resp, err := f.Get(ctx, srv.URL+"/page")
	require.NoError(t, err)
	assert.True(t, resp.IsHTML())
	assert.Equal(t, "<p>TestBot/1.0</p>", string(resp.Body))

	// 重定向后 URL 是最终地址
	resp, err = f.Get(ctx, srv.URL+"/moved")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/page", resp.URL)

	resp, err = f.Get(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.IsHTML())
	assert.Empty(t, resp.Body)

	_, err = f.Get(ctx, srv.URL+"/loop")
	assert.Error(t, err)
}

func TestGetBodyLimit(t *testing.T) {
	srv := newServer(t)
	f := New(5*time.Second, "")
	f.maxBodySize = 4

	_, err := f.Get(context.Background(), srv.URL+"/page")
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	srv := newServer(t)
	f := New(5*time.Second, "")
	var buf bytes.Buffer

	n, err := f.Download(context.Background(), srv.URL+"/file.txt", &buf)
	require.NoError(t, err)
	assert.EqualValues(t, len("plain file"), n)
	assert.Equal(t, "plain file", buf.String())

	_, err = f.Download(context.Background(), srv.URL+"/missing.txt", &buf)
	assert.Error(t, err)
}

func TestDownloadSizeLimit(t *testing.T) {
	srv := newServer(t)
	f := New(5*time.Second, "").WithMaxBodySize(4)
	var buf bytes.Buffer

	_, err := f.Download(context.Background(), srv.URL+"/file.txt", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	// 非正值不改变上限
	assert.EqualValues(t, DefaultMaxBodySize, New(time.Second, "").WithMaxBodySize(0).maxBodySize)
}
