// Package textnorm 把抓取得到的原始文本规整成适合切块和向量化的形式。
//
// 处理分四个阶段：去除技术残留（URL、标签、邮箱、HTML 实体）、
// 小写与字符集收敛、语言识别、按语言分词并做词形归并。
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"github.com/kljensen/snowball"
	"github.com/kljensen/snowball/english"
	"github.com/kljensen/snowball/russian"
)

// Language 是第三阶段识别出的语言。
type Language string

const (
	LangRussian Language = "ru"
	LangEnglish Language = "en"
	LangUnknown Language = "unknown"
)

var (
	urlPattern    = regexp.MustCompile(`https?://\S+|www\.\S+`)
	tagPattern    = regexp.MustCompile(`<.*?>`)
	emailPattern  = regexp.MustCompile(`\S+@\S+`)
	entityPattern = regexp.MustCompile(`&\w+;`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// Options 控制第四阶段的行为。
type Options struct {
	// Stem 为 false 时只做分词过滤，不做 Snowball 词干化。
	Stem bool
	// RemoveStopWords 对问答检索通常应关闭。
	RemoveStopWords bool
}

// DefaultOptions 开启词形归并，保留停用词。
func DefaultOptions() Options {
	return Options{Stem: true}
}

// Normalizer 执行完整的四阶段清洗，可并发使用。
type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Clean 执行完整流程。空输入返回空串；语言无法识别时返回第二阶段的结果。
func (n *Normalizer) Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := RemoveArtifacts(raw)
	text = Normalize(text)
	if text == "" {
		return ""
	}
	lang := DetectLanguage(text)
	if lang == LangUnknown {
		return text
	}
	return StemTokens(text, lang, n.opts)
}

// Clean 使用默认选项的便捷函数。
func Clean(raw string) string {
	return New(DefaultOptions()).Clean(raw)
}

// RemoveArtifacts 删除 URL、HTML/XML 标签、邮箱和 HTML 实体。
func RemoveArtifacts(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = tagPattern.ReplaceAllString(text, "")
	text = emailPattern.ReplaceAllString(text, "")
	text = entityPattern.ReplaceAllString(text, "")
	return text
}

// Normalize 转小写，只保留拉丁、西里尔字母、数字、空白和 .,!?-，
// 把同一标点的连续重复合并为一个，并压缩空白。
func Normalize(text string) string {
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	var prev rune
	for _, r := range text {
		if !allowedRune(r) {
			continue
		}
		if isCollapsiblePunct(r) && r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.TrimSpace(spacePattern.ReplaceAllString(b.String(), " "))
}

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r >= 'а' && r <= 'я', r == 'ё':
		return true
	case unicode.IsSpace(r):
		return true
	}
	return isCollapsiblePunct(r)
}

func isCollapsiblePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', '-':
		return true
	}
	return false
}

// DetectLanguage 尽力识别文本语言，只区分俄语、英语和其他。
func DetectLanguage(text string) Language {
	if strings.TrimSpace(text) == "" {
		return LangUnknown
	}
	info := whatlanggo.Detect(text)
	switch info.Lang {
	case whatlanggo.Rus:
		return LangRussian
	case whatlanggo.Eng:
		return LangEnglish
	}
	return LangUnknown
}

// Tokenize 按非字母数字切分，只保留全字母且长度不少于 2 的词。
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || !isAlpha(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// StemTokens 分词后按语言做 Snowball 词干化，可选去掉停用词，最后用单个空格拼接。
func StemTokens(text string, lang Language, opts Options) string {
	tokens := Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if opts.RemoveStopWords && isStopWord(tok, lang) {
			continue
		}
		if opts.Stem {
			tok = stem(tok, lang)
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func isStopWord(word string, lang Language) bool {
	switch lang {
	case LangRussian:
		return russian.IsStopWord(word)
	case LangEnglish:
		return english.IsStopWord(word)
	case LangUnknown:
		return false
	}
	return false
}

func stem(word string, lang Language) string {
	var language string
	switch lang {
	case LangRussian:
		language = "russian"
	case LangEnglish:
		language = "english"
	case LangUnknown:
		return word
	}
	stemmed, err := snowball.Stem(word, language, false)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}
