package textnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanEmptyInput(t *testing.T) {
	assert.Equal(t, "", Clean(""))
	assert.Equal(t, "", Clean("   \n\t "))
	assert.Equal(t, "", Clean("<br/> &nbsp; https://example.com"))
}

func TestCleanCollapsesPunctuationAndWhitespace(t *testing.T) {
	out := Clean("Hello!!!   world")
	assert.NotContains(t, out, "!!")
	assert.NotContains(t, out, "  ")
	assert.Equal(t, out, strings.ToLower(out))
}

func TestCleanRemovesURLs(t *testing.T) {
	out := Clean("Read the full documentation at https://example.com/docs?page=1 for more details about the product")
	assert.NotContains(t, out, "http")
	assert.NotContains(t, out, "example.com")
}

func TestRemoveArtifacts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"url", "see https://a.b/c now", "see  now"},
		{"www", "go www.site.ru today", "go  today"},
		{"tag", "<p>text</p>", "text"},
		{"email", "mail me: info@example.com", "mail me: "},
		{"entity", "a&nbsp;b &amp; c", "ab  c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveArtifacts(tt.input))
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"cyrillic kept", "Привет, Мир!", "привет, мир!"},
		{"symbols dropped", "price: $100 #sale", "price 100 sale"},
		{"repeated punctuation", "wait... what?!?? ok---", "wait. what?!? ok-"},
		{"whitespace", "  a \n\n b\t c  ", "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestTokenizeKeepsAlphabeticTokens(t *testing.T) {
	tokens := Tokenize("a cat, 42 dogs and x1 birds.")
	assert.Equal(t, []string{"cat", "dogs", "and", "birds"}, tokens)
}

func TestStemEnglish(t *testing.T) {
	out := StemTokens("the cats are running in the gardens", LangEnglish, DefaultOptions())
	tokens := strings.Fields(out)
	assert.Contains(t, tokens, "cat")
	assert.Contains(t, tokens, "garden")
	assert.Contains(t, tokens, "the")
}

func TestStemStopWordsConfigurable(t *testing.T) {
	text := "the cats are running in the gardens"

	kept := StemTokens(text, LangEnglish, Options{Stem: true, RemoveStopWords: false})
	assert.Contains(t, strings.Fields(kept), "the")

	removed := StemTokens(text, LangEnglish, Options{Stem: true, RemoveStopWords: true})
	assert.NotContains(t, strings.Fields(removed), "the")
	assert.Contains(t, strings.Fields(removed), "cat")
}

func TestStemDisabled(t *testing.T) {
	out := StemTokens("cats, dogs!", LangEnglish, Options{})
	assert.Equal(t, "cats dogs", out)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, LangUnknown, DetectLanguage(""))
	assert.Equal(t, LangEnglish, DetectLanguage("this is a fairly long english sentence about the weather and the city parks"))
	assert.Equal(t, LangRussian, DetectLanguage("это достаточно длинное предложение на русском языке о погоде и городских парках"))
}

func TestCleanRussianProducesSingleSpacedTokens(t *testing.T) {
	out := Clean("Наша компания предлагает лучшие решения для автоматизации бизнеса и складского учёта!")
	assert.NotEmpty(t, out)
	assert.NotContains(t, out, "!")
	assert.NotContains(t, out, "  ")
	for _, tok := range strings.Fields(out) {
		assert.GreaterOrEqual(t, len([]rune(tok)), 2)
	}
}
