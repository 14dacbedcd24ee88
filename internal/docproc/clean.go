package docproc

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	controlChars     = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x84\x86-\x9f]`)
	doubleQuotes     = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "‟", `"`, "«", `"`, "»", `"`)
	singleQuotes     = strings.NewReplacer("‘", "'", "’", "'", "‚", "'", "‛", "'")
	spaceBeforePunct = regexp.MustCompile(`\s+([.!?,:;])`)
	sentenceBoundary = regexp.MustCompile(`([.!?])\s*([A-ZА-ЯЁ])`)
)

// CleanText 规整抽取出的文本：压缩空白、去掉控制字符、统一引号、
// 合并重复标点、去掉标点前的空格，并保证句末标点与下一个大写字母之间有一个空格。
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	text = controlChars.ReplaceAllString(text, "")
	text = doubleQuotes.Replace(text)
	text = singleQuotes.Replace(text)
	text = collapseRuns(text, ".!?")
	text = collapseRuns(text, ",;:")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = sentenceBoundary.ReplaceAllString(text, "$1 $2")
	return strings.TrimSpace(text)
}

// collapseRuns 把由 set 中字符组成、长度不少于 2 的连续片段替换为片段的最后一个字符。
func collapseRuns(text, set string) string {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); {
		if !strings.ContainsRune(set, runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && strings.ContainsRune(set, runes[j]) {
			j++
		}
		b.WriteRune(runes[j-1])
		i = j
	}
	return b.String()
}
