package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/pkg/fetch"
)

// fakeFetcher 按 URL 返回预置页面，并记录请求顺序。
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	failOn map[string]bool
	calls  []string
}

func (f *fakeFetcher) Get(_ context.Context, u string) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	if f.failOn[u] {
		return nil, errors.New("connection refused")
	}
	body, ok := f.pages[u]
	if !ok {
		return &fetch.Response{URL: u, StatusCode: http.StatusNotFound, ContentType: "text/html"}, nil
	}
	return &fetch.Response{URL: u, StatusCode: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: []byte(body)}, nil
}

func page(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head>")
	if title != "" {
		fmt.Fprintf(&b, "<title>%s</title>", title)
	}
	b.WriteString("</head><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestIsValidURL(t *testing.T) {
	allowed := []string{"example.com"}
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/page", true},
		{"http://shop.example.com/", true},
		{"ftp://example.com/file", false},
		{"https://evil.org/page", false},
		{"https://example.com/logo.PNG", false},
		{"https://example.com/style.css", false},
		{"https://example.com/archive.zip", false},
		{"https://example.com/doc.pdf", true},
		{"mailto:info@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidURL(tt.url, allowed))
		})
	}
}

func TestCrawlBFSCollectsAcceptedPages(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/":  page("Home", "/a", "/b#section", "https://other.org/", "/img.png"),
		"https://example.com/a": page("A", "/", "/c"),
		"https://example.com/b": page(""),
		"https://example.com/c": page("C"),
	}}
	c := New(f, Options{})

	result, err := c.Crawl(context.Background(), "https://example.com/", []string{"example.com"}, 2, 50)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"https://example.com/":  "Home",
		"https://example.com/a": "A",
		"https://example.com/b": UntitledPage,
		"https://example.com/c": "C",
	}, result)
	for u := range result {
		assert.True(t, IsValidURL(u, []string{"example.com"}))
		assert.NotContains(t, u, "#")
	}
	// 每个地址只请求一次，外站与图片不请求
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, f.calls)
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/":   page("0", "/d1"),
		"https://example.com/d1": page("1", "/d2"),
		"https://example.com/d2": page("2", "/d3"),
		"https://example.com/d3": page("3"),
	}}
	result, err := New(f, Options{}).Crawl(context.Background(), "https://example.com/", []string{"example.com"}, 1, 50)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Contains(t, result, "https://example.com/d1")
	assert.NotContains(t, result, "https://example.com/d2")
}

func TestCrawlRespectsMaxLinks(t *testing.T) {
	links := make([]string, 0, 20)
	pages := map[string]string{}
	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("/p%d", i)
		links = append(links, p)
		pages["https://example.com"+p] = page(p)
	}
	pages["https://example.com/"] = page("Home", links...)
	f := &fakeFetcher{pages: pages}

	result, err := New(f, Options{}).Crawl(context.Background(), "https://example.com/", []string{"example.com"}, 3, 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result), 5)
	assert.Len(t, f.calls, 5)
}

func TestCrawlContinuesAfterFetchError(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]string{
			"https://example.com/":     page("Home", "/bad", "/good"),
			"https://example.com/good": page("Good"),
		},
		failOn: map[string]bool{"https://example.com/bad": true},
	}
	result, err := New(f, Options{}).Crawl(context.Background(), "https://example.com/", []string{"example.com"}, 2, 50)
	require.NoError(t, err)
	assert.Contains(t, result, "https://example.com/good")
	assert.NotContains(t, result, "https://example.com/bad")
}

func TestCrawlSkipsNonHTMLAndErrorPages(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/": page("Home", "/missing"),
	}}
	result, err := New(f, Options{}).Crawl(context.Background(), "https://example.com/", []string{"example.com"}, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"https://example.com/": "Home"}, result)
}

func TestCrawlExcludedPaths(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://example.com/":            page("Home", "/admin/users", "/news"),
		"https://example.com/news":        page("News"),
		"https://example.com/admin/users": page("Admin"),
	}}
	result, err := New(f, Options{ExcludedPaths: []string{"/admin"}}).Crawl(context.Background(), "https://example.com/", []string{"example.com"}, 2, 50)
	require.NoError(t, err)
	assert.Contains(t, result, "https://example.com/news")
	assert.NotContains(t, result, "https://example.com/admin/users")
}

func TestCrawlCancelled(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/": page("Home", "/a")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(f, Options{}).Crawl(ctx, "https://example.com/", []string{"example.com"}, 2, 50)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrawlOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, page("Root", "/next", "/file.pdf"))
		case "/next":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, page("Next"))
		case "/file.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF-1.4")
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	c := New(fetch.New(2*time.Second, ""), Options{Delay: time.Millisecond})
	result, err := c.Crawl(context.Background(), srv.URL+"/", []string{u.Hostname()}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{srv.URL + "/": "Root", srv.URL + "/next": "Next"}, result)
}

func TestAllowedDomainsFor(t *testing.T) {
	assert.Equal(t, []string{"example.com"}, AllowedDomainsFor("https://www.example.com/path"))
	assert.Equal(t, []string{"shop.example.com"}, AllowedDomainsFor("http://shop.example.com"))
	assert.Nil(t, AllowedDomainsFor("not a url"))
}
