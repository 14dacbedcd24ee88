// Package fetch 封装抓取网页与下载文件用的 HTTP 客户端。
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; SiteBot/1.0)"
	// DefaultMaxBodySize 限制单个页面读入内存的大小。
	DefaultMaxBodySize = 10 << 20
)

// Response 是一次 GET 的结果。非 200 状态也会返回 Response 而不是错误。
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsHTML 表示响应是 200 的 text/html 页面。
func (r *Response) IsHTML() bool {
	return r.StatusCode == http.StatusOK && strings.Contains(strings.ToLower(r.ContentType), "text/html")
}

// Fetcher 是带超时和 UA 的 HTTP 客户端。
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
}

// New 创建 Fetcher，timeout 作用于单次请求。
func New(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		},
		userAgent:   userAgent,
		maxBodySize: DefaultMaxBodySize,
	}
}

// WithMaxBodySize 设置 Get 与 Download 的大小上限，n 非正时不变。
func (f *Fetcher) WithMaxBodySize(n int64) *Fetcher {
	if n > 0 {
		f.maxBodySize = n
	}
	return f
}

func (f *Fetcher) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return req, nil
}

// Get 下载页面并把正文读入内存，超过大小上限时返回错误。
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	req, err := f.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	result := &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.maxBodySize)
	}
	result.Body = body
	return result, nil
}

// Download 把响应体流式写入 w，非 200 或超过大小上限时返回错误。
// 超限时 w 中可能已有部分内容，由调用方丢弃。
func (f *Fetcher) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := f.newRequest(ctx, url)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if resp.ContentLength > f.maxBodySize {
		return 0, fmt.Errorf("content too large (%d bytes, max %d)", resp.ContentLength, f.maxBodySize)
	}
	n, err := io.Copy(w, io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	if n > f.maxBodySize {
		return n, fmt.Errorf("content too large (exceeds %d bytes)", f.maxBodySize)
	}
	return n, nil
}
