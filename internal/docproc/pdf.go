package docproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sitebot-go/pkg/log"
	"sitebot-go/pkg/metrics"
)

// processPDF 逐页取文本层，文本为空的页单独渲染后做 OCR。单页失败只记日志。
func (p *Processor) processPDF(ctx context.Context, path string) Result {
	pages, err := p.pdfPages(ctx, path)
	if err != nil {
		return failure(FormatPDF, fmt.Sprintf("pdf text extraction failed: %v", err))
	}

	var workDir string
	defer func() {
		if workDir != "" {
			_ = os.RemoveAll(workDir)
		}
	}()

	var texts []string
	processed, ocrPages := 0, 0
	for i, text := range pages {
		if ctx.Err() != nil {
			return failure(FormatPDF, ctx.Err().Error())
		}
		pageNum := i + 1
		if strings.TrimSpace(text) == "" {
			if p.tesseract == nil {
				continue
			}
			if workDir == "" {
				workDir, err = os.MkdirTemp("", "sitebot-ocr-")
				if err != nil {
					log.Warnf("[DocProcessor] 创建 OCR 临时目录失败: %v", err)
					continue
				}
			}
			ocrText, err := p.ocrPage(ctx, path, workDir, pageNum)
			if err != nil {
				metrics.OCRPages.WithLabelValues("failure").Inc()
				log.Warnf("[DocProcessor] 第 %d 页 OCR 失败: file=%s, err=%v", pageNum, filepath.Base(path), err)
				continue
			}
			metrics.OCRPages.WithLabelValues("success").Inc()
			if strings.TrimSpace(ocrText) == "" {
				continue
			}
			text = ocrText
			ocrPages++
		}
		texts = append(texts, text)
		processed++
	}

	if len(texts) == 0 {
		return failure(FormatPDF, "no text could be extracted from pdf")
	}
	return Result{
		Success:        true,
		Text:           strings.Join(texts, "\n\n"),
		PagesProcessed: processed,
		OCRPages:       ocrPages,
	}
}

// pdfPages 优先用 Tika 的分页 XHTML，失败或未配置时用 pdfinfo + pdftotext。
func (p *Processor) pdfPages(ctx context.Context, path string) ([]string, error) {
	if p.tika != nil {
		f, err := os.Open(path)
		if err == nil {
			pages, tikaErr := p.tika.ExtractPages(ctx, f, filepath.Base(path))
			_ = f.Close()
			if tikaErr == nil && len(pages) > 0 {
				return pages, nil
			}
			log.Warnf("[DocProcessor] Tika 抽取失败，改用 pdftotext: file=%s, err=%v", filepath.Base(path), tikaErr)
		}
	}

	count, err := p.poppler.CountPages(ctx, path)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("pdf has no pages")
	}
	pages := make([]string, count)
	for i := range pages {
		text, err := p.poppler.PageText(ctx, path, i+1)
		if err != nil {
			log.Warnf("[DocProcessor] 第 %d 页文本抽取失败: file=%s, err=%v", i+1, filepath.Base(path), err)
			continue
		}
		pages[i] = text
	}
	return pages, nil
}

func (p *Processor) ocrPage(ctx context.Context, path, workDir string, page int) (string, error) {
	image, err := p.poppler.RenderPage(ctx, path, workDir, page, p.opts.OCRDPI)
	if err != nil {
		return "", err
	}
	defer os.Remove(image)
	return p.tesseract.Recognize(ctx, image)
}
