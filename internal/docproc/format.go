// Package docproc 把 PDF、DOCX、TXT 文件转换为纯文本，扫描页回退到 OCR。
package docproc

import (
	"errors"
	"path/filepath"
	"strings"
)

// Format 是支持的文档格式，取值是封闭集合。
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
)

// ErrUnsupportedFormat 表示扩展名不在支持的集合中。
var ErrUnsupportedFormat = errors.New("unsupported document format")

// SupportedFormats 列出全部支持的格式。
var SupportedFormats = []Format{FormatPDF, FormatDOCX, FormatTXT}

// FormatFromPath 按扩展名（不区分大小写）判断格式。
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch Format(ext) {
	case FormatPDF, FormatDOCX, FormatTXT:
		return Format(ext), nil
	}
	return "", ErrUnsupportedFormat
}
