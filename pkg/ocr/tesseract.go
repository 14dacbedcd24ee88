// Package ocr 封装外部命令行工具：tesseract 做文字识别，poppler 做 PDF 分页与渲染。
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Tesseract 调用 tesseract 识别图片文字。
type Tesseract struct {
	Path      string
	Languages string
	Timeout   time.Duration
}

// NewTesseract 创建识别器，languages 形如 "rus+eng"。
func NewTesseract(path, languages string, timeout time.Duration) *Tesseract {
	if path == "" {
		path = "tesseract"
	}
	if languages == "" {
		languages = "rus+eng"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Tesseract{Path: path, Languages: languages, Timeout: timeout}
}

// Available 判断二进制是否在 PATH 中。
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.Path)
	return err == nil
}

// Recognize 识别一张图片，输出到 stdout。使用 LSTM 引擎（--oem 3）和单块文本布局（--psm 6）。
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Path, imagePath, "stdout", "-l", t.Languages, "--oem", "3", "--psm", "6")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
