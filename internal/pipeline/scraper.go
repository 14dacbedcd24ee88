// Package pipeline 把一个站点转换为抓取条目：爬取页面、抽取正文与表格、
// 识别图片文字、下载并处理页面链接的文档。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"sitebot-go/internal/crawler"
	"sitebot-go/internal/docproc"
	"sitebot-go/internal/extractor"
	"sitebot-go/internal/model"
	"sitebot-go/pkg/htmlx"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/storage"
)

// minOCRTextLength 以下的图片识别结果视为噪声。
const minOCRTextLength = 10

// Options 控制一次抓取的规模。
type Options struct {
	MaxDepth            int
	MaxLinks            int
	MaxImagesPerPage    int
	MaxDocumentsPerPage int
	DocumentConcurrency int
	// WorkDir 是下载文件的临时目录的父目录，为空时使用系统临时目录。
	WorkDir string
}

// PageError 记录一个处理失败的页面。
type PageError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Stats 是一次抓取的统计。
type Stats struct {
	TotalURLsScraped   int            `json:"total_urls_scraped"`
	TotalDataItems     int            `json:"total_data_items"`
	DataTypes          map[string]int `json:"data_types"`
	DocumentsProcessed int            `json:"documents_processed"`
	Errors             []PageError    `json:"errors"`
}

// Map 转换为写入 projects.stats 的 JSON map。
func (s Stats) Map() map[string]interface{} {
	return map[string]interface{}{
		"total_urls_scraped":  s.TotalURLsScraped,
		"total_data_items":    s.TotalDataItems,
		"data_types":          s.DataTypes,
		"documents_processed": s.DocumentsProcessed,
		"errors":              len(s.Errors),
	}
}

// Result 是 Run 的输出。Items 按页面访问顺序排列，每页内依次为正文、表格、图片，文档在最后。
type Result struct {
	Items []*model.ScrapedItem
	Stats Stats
}

// Scraper 串联 crawler、extractor 与 docproc。
type Scraper struct {
	crawler   *crawler.Crawler
	extractor *extractor.Extractor
	docs      *docproc.Processor
	archive   storage.ObjectStore
	opts      Options
}

// New 创建 Scraper。archive 为 nil 时不归档下载的文档。
func New(c *crawler.Crawler, e *extractor.Extractor, docs *docproc.Processor, archive storage.ObjectStore, opts Options) *Scraper {
	if opts.DocumentConcurrency <= 0 {
		opts.DocumentConcurrency = 1
	}
	return &Scraper{crawler: c, extractor: e, docs: docs, archive: archive, opts: opts}
}

// Run 抓取 seedURL 所在站点。单个页面、图片或文档的失败只记录到 Stats.Errors；
// ctx 取消时返回 ctx.Err()。
func (s *Scraper) Run(ctx context.Context, projectID, seedURL string) (*Result, error) {
	start := time.Now()
	workDir, err := os.MkdirTemp(s.opts.WorkDir, "scrape-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pages, err := s.crawler.CrawlPages(ctx, seedURL, crawler.AllowedDomainsFor(seedURL), s.opts.MaxDepth, s.opts.MaxLinks)
	if err != nil {
		return nil, err
	}

	result := &Result{Stats: Stats{DataTypes: make(map[string]int)}}
	var docLinks []documentLink
	seenDocs := make(map[string]struct{})

	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.extractor.ExtractPage(ctx, p.URL)
		if err != nil {
			result.Stats.Errors = append(result.Stats.Errors, PageError{URL: p.URL, Error: err.Error()})
			continue
		}
		result.Stats.TotalURLsScraped++

		if page.MainText != "" {
			result.Items = append(result.Items, &model.ScrapedItem{
				DataType: model.DataTypeText,
				Content:  page.MainText,
				Source:   p.URL,
				Metadata: map[string]interface{}{"title": p.Title},
			})
		}
		for i, table := range page.Tables {
			if text := TableText(table); text != "" {
				result.Items = append(result.Items, &model.ScrapedItem{
					DataType: model.DataTypeTable,
					Content:  text,
					Source:   p.URL,
					Metadata: map[string]interface{}{"table_index": i},
				})
			}
		}
		result.Items = append(result.Items, s.ocrImages(ctx, workDir, page.Images)...)

		count := 0
		for _, link := range page.DocumentLinks {
			if count >= s.opts.MaxDocumentsPerPage {
				break
			}
			count++
			if _, dup := seenDocs[link]; dup {
				continue
			}
			seenDocs[link] = struct{}{}
			docLinks = append(docLinks, documentLink{url: link, page: p.URL})
		}
	}

	docItems, docErrors := s.processDocuments(ctx, projectID, workDir, docLinks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.Items = append(result.Items, docItems...)
	result.Stats.Errors = append(result.Stats.Errors, docErrors...)
	result.Stats.DocumentsProcessed = len(docItems)

	for _, item := range result.Items {
		item.ProjectID = projectID
		result.Stats.DataTypes[string(item.DataType)]++
	}
	result.Stats.TotalDataItems = len(result.Items)

	log.Infof("[Scraper] 抓取完成: project=%s, pages=%d, items=%d, documents=%d, errors=%d, cost=%s",
		projectID, result.Stats.TotalURLsScraped, result.Stats.TotalDataItems,
		result.Stats.DocumentsProcessed, len(result.Stats.Errors), time.Since(start))
	return result, nil
}

// TableText 把表格转换为文本：单元格用制表符连接，行用换行连接，空行跳过。
func TableText(rows [][]string) string {
	var lines []string
	for _, row := range rows {
		var cells []string
		for _, cell := range row {
			if cell = strings.TrimSpace(cell); cell != "" {
				cells = append(cells, cell)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, "\t"))
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Scraper) ocrImages(ctx context.Context, workDir string, images []htmlx.Image) []*model.ScrapedItem {
	if !s.docs.OCREnabled() || s.opts.MaxImagesPerPage <= 0 {
		return nil
	}
	var items []*model.ScrapedItem
	for i, img := range images {
		if i >= s.opts.MaxImagesPerPage || ctx.Err() != nil {
			break
		}
		dir, err := os.MkdirTemp(workDir, "img-")
		if err != nil {
			continue
		}
		path, ok := s.extractor.DownloadImage(ctx, img.URL, dir)
		if !ok {
			continue
		}
		text, err := s.docs.OCRImage(ctx, path)
		_ = os.RemoveAll(dir)
		if err != nil {
			log.Warnf("[Scraper] 图片识别失败: url=%s, err=%v", img.URL, err)
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(text)) <= minOCRTextLength {
			continue
		}
		items = append(items, &model.ScrapedItem{
			DataType: model.DataTypeImageOCR,
			Content:  text,
			Source:   img.URL,
			Metadata: map[string]interface{}{"alt_text": img.Alt},
		})
	}
	return items
}

type documentLink struct {
	url  string
	page string
}

// processDocuments 并发下载并处理文档，并发度由 DocumentConcurrency 限制。结果保持 links 的顺序。
func (s *Scraper) processDocuments(ctx context.Context, projectID, workDir string, links []documentLink) ([]*model.ScrapedItem, []PageError) {
	items := make([]*model.ScrapedItem, len(links))
	var (
		mu     sync.Mutex
		errs   []PageError
		g      errgroup.Group
		record = func(url string, err error) {
			mu.Lock()
			errs = append(errs, PageError{URL: url, Error: err.Error()})
			mu.Unlock()
		}
	)
	g.SetLimit(s.opts.DocumentConcurrency)
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			item, err := s.processDocument(ctx, projectID, filepath.Join(workDir, fmt.Sprintf("doc-%d", i)), link)
			if err != nil {
				record(link.url, err)
				return nil
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*model.ScrapedItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out, errs
}

func (s *Scraper) processDocument(ctx context.Context, projectID, dir string, link documentLink) (*model.ScrapedItem, error) {
	path, ok := s.extractor.Download(ctx, link.url, dir)
	if !ok {
		return nil, errors.New("download failed")
	}
	if err := s.docs.Validate(path); err != nil {
		return nil, err
	}
	res := s.docs.Process(ctx, path)
	if !res.Success {
		return nil, errors.New(res.Error)
	}

	metadata := map[string]interface{}{
		"filename":        filepath.Base(path),
		"format":          string(res.Format),
		"pages_processed": res.PagesProcessed,
		"word_count":      res.WordCount,
		"found_on":        link.page,
	}
	if res.OCRPages > 0 {
		metadata["ocr_pages"] = res.OCRPages
	}
	if s.archive != nil {
		object := storage.DocumentObject(projectID, path)
		if err := s.archive.UploadFile(ctx, object, path); err != nil {
			log.Warnf("[Scraper] 文档归档失败: file=%s, err=%v", filepath.Base(path), err)
		} else {
			metadata["object"] = object
		}
	}
	return &model.ScrapedItem{
		DataType: model.DataTypeDocument,
		Content:  res.Text,
		Source:   link.url,
		Metadata: metadata,
	}, nil
}
