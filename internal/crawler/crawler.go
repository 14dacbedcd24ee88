// Package crawler 以广度优先方式收集站点内的页面地址与标题。
package crawler

import (
	"context"
	"net/url"
	"strings"
	"time"

	"sitebot-go/pkg/fetch"
	"sitebot-go/pkg/htmlx"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/metrics"
)

// UntitledPage 是页面没有 <title> 时使用的标题。
const UntitledPage = "Untitled"

// DefaultDelay 是两次请求之间的礼貌间隔。
const DefaultDelay = 100 * time.Millisecond

var blacklistedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".zip", ".rar", ".css", ".js", ".xml", ".mp3", ".mp4"}

// Fetcher 抽象了页面下载，便于测试替换。
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Page 是一次抓取收集到的页面。
type Page struct {
	URL   string
	Title string
	Depth int
}

// Options 配置 Crawler。
type Options struct {
	Delay time.Duration
	// ExcludedPaths 中的路径片段出现在 URL path 里时不收集、不跟进。
	ExcludedPaths []string
}

// Crawler 顺序抓取页面。单个 Crawler 可以被多个 goroutine 同时使用，每次 Crawl 状态独立。
type Crawler struct {
	fetcher Fetcher
	opts    Options
}

func New(fetcher Fetcher, opts Options) *Crawler {
	return &Crawler{fetcher: fetcher, opts: opts}
}

// Crawl 返回 URL 到页面标题的映射，只包含通过过滤的 200 text/html 页面。
func (c *Crawler) Crawl(ctx context.Context, seedURL string, allowedDomains []string, maxDepth, maxLinks int) (map[string]string, error) {
	pages, err := c.CrawlPages(ctx, seedURL, allowedDomains, maxDepth, maxLinks)
	result := make(map[string]string, len(pages))
	for _, p := range pages {
		result[p.URL] = p.Title
	}
	return result, err
}

type queued struct {
	url   string
	depth int
}

// CrawlPages 与 Crawl 相同，但按访问顺序返回页面。
// 已访问集合达到 maxLinks 或队列为空时停止；单个 URL 的网络错误只记日志。
// ctx 取消时返回已收集的页面和 ctx.Err()。
func (c *Crawler) CrawlPages(ctx context.Context, seedURL string, allowedDomains []string, maxDepth, maxLinks int) ([]Page, error) {
	queue := []queued{{url: seedURL, depth: 0}}
	visited := make(map[string]struct{})
	var pages []Page

	log.Infof("[Crawler] 开始抓取: seed=%s, max_depth=%d, max_links=%d", seedURL, maxDepth, maxLinks)
	for len(queue) > 0 && len(visited) < maxLinks {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		item := queue[0]
		queue = queue[1:]

		current := stripFragment(item.url)
		if _, seen := visited[current]; seen {
			continue
		}
		if item.depth > maxDepth {
			continue
		}

		resp, err := c.fetcher.Get(ctx, current)
		visited[current] = struct{}{}
		if err != nil {
			metrics.CrawlFetchErrors.Inc()
			log.Warnf("[Crawler] 抓取失败: url=%s, err=%v", current, err)
			continue
		}
		metrics.CrawlPagesFetched.Inc()

		if resp.IsHTML() {
			doc, err := htmlx.Parse(resp.Body)
			if err != nil {
				log.Warnf("[Crawler] HTML 解析失败: url=%s, err=%v", current, err)
			} else {
				if c.accept(current, allowedDomains) {
					title := htmlx.Title(doc)
					if title == "" {
						title = UntitledPage
					}
					pages = append(pages, Page{URL: current, Title: title, Depth: item.depth})
				}
				base, _ := url.Parse(current)
				for _, link := range htmlx.Links(doc, base) {
					if _, seen := visited[link]; seen {
						continue
					}
					if c.accept(link, allowedDomains) {
						queue = append(queue, queued{url: link, depth: item.depth + 1})
					}
				}
			}
		}

		if c.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return pages, ctx.Err()
			case <-time.After(c.opts.Delay):
			}
		}
	}
	log.Infof("[Crawler] 抓取完成: seed=%s, visited=%d, collected=%d", seedURL, len(visited), len(pages))
	return pages, nil
}

func (c *Crawler) accept(rawURL string, allowedDomains []string) bool {
	if !IsValidURL(rawURL, allowedDomains) {
		return false
	}
	if len(c.opts.ExcludedPaths) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, excluded := range c.opts.ExcludedPaths {
		if excluded != "" && strings.Contains(path, strings.ToLower(excluded)) {
			return false
		}
	}
	return true
}

// IsValidURL 检查协议为 http/https、主机名以某个允许域名结尾、路径不是黑名单扩展名。
func IsValidURL(rawURL string, allowedDomains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	matched := false
	for _, domain := range allowedDomains {
		if domain != "" && strings.HasSuffix(host, strings.ToLower(domain)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range blacklistedExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// AllowedDomainsFor 从种子地址推导允许的域名（去掉 www. 前缀）。
func AllowedDomainsFor(seedURL string) []string {
	u, err := url.Parse(seedURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	return []string{strings.TrimPrefix(host, "www.")}
}

func stripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
