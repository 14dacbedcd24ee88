package docproc

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

type textDecoder struct {
	name string
	dec  func([]byte) (string, bool)
}

// 按顺序尝试的编码。带 BOM 的 UTF-16 会被 cp1251 误读，所以先单独识别 BOM。
var textDecoders = []textDecoder{
	{"utf-8", decodeUTF8},
	{"cp1251", strictDecoder(charmap.Windows1251)},
	{"iso-8859-1", strictDecoder(charmap.ISO8859_1)},
	{"utf-16", strictDecoder(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM))},
}

func processTXT(path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return failure(FormatTXT, fmt.Sprintf("txt read failed: %v", err))
	}
	text, _, ok := DecodeText(data)
	if !ok {
		return failure(FormatTXT, "could not detect file encoding")
	}
	if strings.TrimSpace(text) == "" {
		return failure(FormatTXT, "file is empty")
	}
	return Result{Success: true, Text: text, PagesProcessed: 1}
}

// DecodeText 返回解码后的文本和使用的编码名。
func DecodeText(data []byte) (string, string, bool) {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		if text, ok := strictDecoder(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM))(data); ok {
			return text, "utf-16", true
		}
	}
	for _, d := range textDecoders {
		if text, ok := d.dec(data); ok {
			return text, d.name, true
		}
	}
	return "", "", false
}

func decodeUTF8(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// strictDecoder 解码结果里出现替换字符时视为失败。
func strictDecoder(enc encoding.Encoding) func([]byte) (string, bool) {
	return func(data []byte) (string, bool) {
		out, err := enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			return "", false
		}
		return string(out), true
	}
}
