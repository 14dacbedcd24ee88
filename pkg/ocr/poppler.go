package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var pagesRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// Poppler 调用 pdfinfo、pdftotext、pdftoppm。
type Poppler struct {
	PdfInfoPath   string
	PdfToTextPath string
	PdfToPPMPath  string
	Timeout       time.Duration
}

// NewPoppler 使用给定路径，空值回退到 PATH 中的默认名称。
func NewPoppler(pdfinfo, pdftotext, pdftoppm string) *Poppler {
	p := &Poppler{PdfInfoPath: pdfinfo, PdfToTextPath: pdftotext, PdfToPPMPath: pdftoppm, Timeout: 2 * time.Minute}
	if p.PdfInfoPath == "" {
		p.PdfInfoPath = "pdfinfo"
	}
	if p.PdfToTextPath == "" {
		p.PdfToTextPath = "pdftotext"
	}
	if p.PdfToPPMPath == "" {
		p.PdfToPPMPath = "pdftoppm"
	}
	return p
}

// Available 判断文本抽取所需的二进制是否存在。
func (p *Poppler) Available() bool {
	for _, bin := range []string{p.PdfInfoPath, p.PdfToTextPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

func (p *Poppler) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// CountPages 读取 pdfinfo 输出中的 Pages 字段。
func (p *Poppler) CountPages(ctx context.Context, pdfPath string) (int, error) {
	out, err := p.run(ctx, p.PdfInfoPath, pdfPath)
	if err != nil {
		return 0, err
	}
	m := pagesRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pdfinfo output has no page count")
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("parse page count: %w", err)
	}
	return n, nil
}

// PageText 抽取单页文本层（页码从 1 开始）。
func (p *Poppler) PageText(ctx context.Context, pdfPath string, page int) (string, error) {
	n := strconv.Itoa(page)
	out, err := p.run(ctx, p.PdfToTextPath, "-f", n, "-l", n, "-layout", "-enc", "UTF-8", pdfPath, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// RenderPage 以 dpi 渲染单页为 PNG，返回图片路径。
func (p *Poppler) RenderPage(ctx context.Context, pdfPath, outDir string, page, dpi int) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir outDir: %w", err)
	}
	n := strconv.Itoa(page)
	prefix := filepath.Join(outDir, "page-"+n)
	if _, err := p.run(ctx, p.PdfToPPMPath, "-r", strconv.Itoa(dpi), "-png", "-f", n, "-l", n, "-singlefile", pdfPath, prefix); err != nil {
		return "", err
	}
	out := prefix + ".png"
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("rendered page not found: %w", err)
	}
	return out, nil
}
