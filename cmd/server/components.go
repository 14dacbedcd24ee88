package main

import (
	"sitebot-go/internal/config"
	"sitebot-go/internal/crawler"
	"sitebot-go/internal/docproc"
	"sitebot-go/internal/extractor"
	"sitebot-go/internal/pipeline"
	"sitebot-go/pkg/fetch"
	"sitebot-go/pkg/log"
	"sitebot-go/pkg/ocr"
	"sitebot-go/pkg/storage"
	"sitebot-go/pkg/tika"
)

// newScraper 按配置组装抓取流水线，serve 与 crawl 共用。archive 为 nil 时不归档文档。
func newScraper(cfg config.Config, archive storage.ObjectStore, workDir string) *pipeline.Scraper {
	pages := fetch.New(cfg.Crawler.Timeout, cfg.Crawler.UserAgent)
	downloads := fetch.New(cfg.Scraper.DownloadTimeout, cfg.Crawler.UserAgent).WithMaxBodySize(cfg.Document.MaxFileSize())

	poppler := ocr.NewPoppler(cfg.Document.PdfInfoPath, cfg.Document.PdfToTextPath, cfg.Document.PdfToPPMPath)
	if cfg.OCR.Timeout > 0 {
		poppler.Timeout = cfg.OCR.Timeout
	}
	var tesseract *ocr.Tesseract
	if cfg.OCR.Enabled {
		tesseract = ocr.NewTesseract(cfg.OCR.TesseractPath, cfg.OCR.Languages, cfg.OCR.Timeout)
		if !tesseract.Available() {
			log.Warnf("[Scraper] 未找到 tesseract (%s)，OCR 已关闭", cfg.OCR.TesseractPath)
			tesseract = nil
		}
	}

	docs := docproc.New(tika.NewClient(cfg.Tika), poppler, tesseract, docproc.Options{
		MaxFileSize: cfg.Document.MaxFileSize(),
		OCRDPI:      cfg.OCR.DPI,
	})
	c := crawler.New(pages, crawler.Options{
		Delay:         cfg.Crawler.Delay,
		ExcludedPaths: cfg.Scraper.ExcludedPaths,
	})
	return pipeline.New(c, extractor.New(pages, downloads), docs, archive, pipeline.Options{
		MaxDepth:            cfg.Crawler.MaxDepth,
		MaxLinks:            cfg.Crawler.MaxLinks,
		MaxImagesPerPage:    cfg.Scraper.MaxImagesPerPage,
		MaxDocumentsPerPage: cfg.Scraper.MaxDocumentsPerPage,
		DocumentConcurrency: cfg.Scraper.DocumentConcurrency,
		WorkDir:             workDir,
	})
}
