package docproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sitebot-go/pkg/log"
	"sitebot-go/pkg/metrics"
	"sitebot-go/pkg/ocr"
	"sitebot-go/pkg/tika"
)

// DefaultMaxFileSize 是 Validate 使用的默认大小上限。
const DefaultMaxFileSize = 50 << 20

// Result 是一次处理的结果。失败通过 Success=false 与 Error 表达，不会 panic。
type Result struct {
	Success        bool   `json:"success"`
	Text           string `json:"text,omitempty"`
	Error          string `json:"error,omitempty"`
	PagesProcessed int    `json:"pages_processed"`
	OCRPages       int    `json:"ocr_pages,omitempty"`
	Format         Format `json:"format,omitempty"`
	WordCount      int    `json:"word_count"`
	CharCount      int    `json:"char_count"`
}

func failure(format Format, msg string) Result {
	return Result{Success: false, Format: format, Error: msg}
}

// Options 配置 Processor。
type Options struct {
	MaxFileSize int64
	OCRDPI      int
}

// Processor 处理单个文档，可并发使用。
type Processor struct {
	tika      *tika.Client
	poppler   *ocr.Poppler
	tesseract *ocr.Tesseract
	opts      Options
}

// New 创建 Processor。tikaClient 为 nil 时 PDF 走 poppler；tesseract 为 nil 时不做 OCR。
func New(tikaClient *tika.Client, poppler *ocr.Poppler, tesseract *ocr.Tesseract, opts Options) *Processor {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.OCRDPI <= 0 {
		opts.OCRDPI = 300
	}
	if poppler == nil {
		poppler = ocr.NewPoppler("", "", "")
	}
	return &Processor{tika: tikaClient, poppler: poppler, tesseract: tesseract, opts: opts}
}

// Validate 在处理前检查文件存在、非空、不超过大小上限且格式受支持。
func (p *Processor) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}
	if info.Size() > p.opts.MaxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), p.opts.MaxFileSize)
	}
	if _, err := FormatFromPath(path); err != nil {
		return fmt.Errorf("%w: %s", err, filepath.Ext(path))
	}
	return nil
}

// Process 按格式抽取文本并做统一的清洗。
func (p *Processor) Process(ctx context.Context, path string) Result {
	if _, err := os.Stat(path); err != nil {
		return failure("", "file not found")
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return failure("", fmt.Sprintf("unsupported file format: %s", filepath.Ext(path)))
	}

	start := time.Now()
	var res Result
	switch format {
	case FormatPDF:
		res = p.processPDF(ctx, path)
	case FormatDOCX:
		res = processDOCX(path)
	case FormatTXT:
		res = processTXT(path)
	}
	res.Format = format

	if res.Success {
		res.Text = CleanText(res.Text)
		res.WordCount = len(strings.Fields(res.Text))
		res.CharCount = len([]rune(res.Text))
		metrics.DocumentsProcessed.WithLabelValues(string(format), "success").Inc()
		log.Infof("[DocProcessor] 处理完成: file=%s, format=%s, pages=%d, words=%d, cost=%s",
			filepath.Base(path), format, res.PagesProcessed, res.WordCount, time.Since(start))
	} else {
		metrics.DocumentsProcessed.WithLabelValues(string(format), "failure").Inc()
		log.Warnf("[DocProcessor] 处理失败: file=%s, format=%s, err=%s", filepath.Base(path), format, res.Error)
	}
	return res
}

// OCRImage 识别一张图片中的文字。
func (p *Processor) OCRImage(ctx context.Context, imagePath string) (string, error) {
	if p.tesseract == nil {
		return "", errors.New("ocr disabled")
	}
	text, err := p.tesseract.Recognize(ctx, imagePath)
	if err != nil {
		metrics.OCRPages.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.OCRPages.WithLabelValues("success").Inc()
	return CleanText(text), nil
}

// OCREnabled 表示是否配置了 tesseract。
func (p *Processor) OCREnabled() bool {
	return p.tesseract != nil
}

// Metadata 是文档的基础元数据。
type Metadata struct {
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	Extension  string    `json:"file_extension"`
	ModifiedAt time.Time `json:"modified_at"`
	PagesCount int       `json:"pages_count,omitempty"`
}

// ExtractMetadata 读取文件名、大小、扩展名、修改时间，PDF 额外读取页数。
func (p *Processor) ExtractMetadata(ctx context.Context, path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, err
	}
	md := Metadata{
		Filename:   filepath.Base(path),
		FileSize:   info.Size(),
		Extension:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		ModifiedAt: info.ModTime().UTC(),
	}
	if md.Extension == string(FormatPDF) {
		if n, err := p.poppler.CountPages(ctx, path); err == nil {
			md.PagesCount = n
		}
	}
	return md, nil
}
