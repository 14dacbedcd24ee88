// Package extractor 从单个页面中取出正文、表格、文档链接和图片，并负责下载文档。
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"

	"sitebot-go/pkg/fetch"
	"sitebot-go/pkg/htmlx"
	"sitebot-go/pkg/log"
)

// DocumentExtensions 是会被当作可下载文档的链接后缀。
var DocumentExtensions = []string{".pdf", ".docx", ".txt"}

// Page 是一次下载解析得到的页面内容。
type Page struct {
	URL           string
	Title         string
	MainText      string
	Tables        [][][]string
	PDFLinks      []string
	DocumentLinks []string
	Images        []htmlx.Image
}

// Extractor 负责单页内容抽取，可并发使用。
type Extractor struct {
	pages     *fetch.Fetcher
	downloads *fetch.Fetcher
	markdown  *md.Converter
}

// New 创建 Extractor。pages 用于页面请求，downloads 用于文件下载（通常超时更长）。
func New(pages, downloads *fetch.Fetcher) *Extractor {
	return &Extractor{
		pages:     pages,
		downloads: downloads,
		markdown:  md.NewConverter("", true, nil),
	}
}

// Extract 下载一次页面，返回正文和页面上所有以 .pdf 结尾的链接（绝对地址）。
// 页面无法下载时 ok 为 false，调用方应跳过而不是中止。
func (e *Extractor) Extract(ctx context.Context, pageURL string) (mainText string, pdfLinks []string, ok bool) {
	page, err := e.ExtractPage(ctx, pageURL)
	if err != nil {
		return "", nil, false
	}
	return page.MainText, page.PDFLinks, true
}

// ExtractPage 下载并解析页面的全部可用内容。
func (e *Extractor) ExtractPage(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := e.pages.Get(ctx, pageURL)
	if err != nil {
		log.Warnf("[Extractor] 页面下载失败: url=%s, err=%v", pageURL, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		log.Warnf("[Extractor] 页面返回非 200 状态: url=%s, status=%d", pageURL, resp.StatusCode)
		return nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	return e.Parse(pageURL, resp.Body)
}

// Parse 从已下载的 HTML 中抽取内容。正文抽取与链接解析各自独立解析文档。
func (e *Extractor) Parse(pageURL string, body []byte) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	page := &Page{URL: pageURL}

	if article, err := readability.FromReader(bytes.NewReader(body), base); err == nil {
		page.Title = strings.TrimSpace(article.Title)
		page.MainText = strings.TrimSpace(article.TextContent)
	} else {
		log.Warnf("[Extractor] 正文抽取失败: url=%s, err=%v", pageURL, err)
	}

	doc, err := htmlx.Parse(body)
	if err != nil {
		return page, nil
	}
	if page.Title == "" {
		page.Title = htmlx.Title(doc)
	}
	if page.MainText == "" {
		page.MainText = e.fallbackText(body)
	}

	seen := make(map[string]struct{})
	for _, link := range htmlx.Links(doc, base) {
		ext := linkExtension(link)
		if ext == "" {
			continue
		}
		if ext == ".pdf" {
			page.PDFLinks = append(page.PDFLinks, link)
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		page.DocumentLinks = append(page.DocumentLinks, link)
	}
	page.Tables = htmlx.Tables(doc)
	page.Images = htmlx.Images(doc, base)
	return page, nil
}

// fallbackText 在可读性算法没有结果时把整页转换为 markdown 文本。
func (e *Extractor) fallbackText(body []byte) string {
	text, err := e.markdown.ConvertString(string(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// linkExtension 返回链接路径的文档后缀（小写），不是文档时返回空串。
func linkExtension(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	p := strings.ToLower(u.Path)
	for _, ext := range DocumentExtensions {
		if strings.HasSuffix(p, ext) {
			return ext
		}
	}
	return ""
}

// Download 把文档保存到 destDir，文件名取自 URL 路径，没有扩展名时按 PDF 处理。
// 失败只记日志并返回 ok=false，不向调用方返回错误。
func (e *Extractor) Download(ctx context.Context, fileURL, destDir string) (string, bool) {
	return e.download(ctx, fileURL, destDir, FilenameFromURL(fileURL, ".pdf"))
}

// DownloadImage 与 Download 相同，但不给没有扩展名的图片补后缀，tesseract 按内容识别格式。
func (e *Extractor) DownloadImage(ctx context.Context, imageURL, destDir string) (string, bool) {
	return e.download(ctx, imageURL, destDir, FilenameFromURL(imageURL, ""))
}

func (e *Extractor) download(ctx context.Context, fileURL, destDir, name string) (string, bool) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		log.Warnf("[Extractor] 创建下载目录失败: dir=%s, err=%v", destDir, err)
		return "", false
	}
	dest := filepath.Join(destDir, name)
	f, err := os.Create(dest)
	if err != nil {
		log.Warnf("[Extractor] 创建文件失败: path=%s, err=%v", dest, err)
		return "", false
	}
	_, err = e.downloads.Download(ctx, fileURL, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		log.Warnf("[Extractor] 文件下载失败: url=%s, err=%v", fileURL, err)
		return "", false
	}
	return dest, true
}

// FilenameFromURL 取 URL 路径的最后一段作为文件名，没有扩展名时补 defaultExt（可为空）。
func FilenameFromURL(fileURL, defaultExt string) string {
	name := ""
	if u, err := url.Parse(fileURL); err == nil {
		name = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	if name == "" || name == "/" || name == "." {
		trimmed := strings.TrimRight(fileURL, "/")
		name = trimmed[strings.LastIndex(trimmed, "/")+1:]
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" {
		name = "document"
	}
	if filepath.Ext(name) == "" {
		name += defaultExt
	}
	return name
}

// StatusError 表示页面返回了非 200 状态。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}
