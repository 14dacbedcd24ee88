package vectorstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkEmpty(t *testing.T) {
	assert.Empty(t, Chunk("", 500))
	assert.Empty(t, Chunk("   ", 500))
}

func TestChunkPacksSentences(t *testing.T) {
	text := "First sentence. Second sentence. Third one"
	assert.Equal(t, []string{text}, Chunk(text, 500))

	chunks := Chunk(text, 20)
	assert.Equal(t, []string{"First sentence.", "Second sentence.", "Third one"}, chunks)
}

func TestChunkProperties(t *testing.T) {
	sentence := "Lorem ipsum dolor sit amet consectetur"
	var parts []string
	for i := 0; i < 40; i++ {
		parts = append(parts, sentence)
	}
	parts = append(parts, strings.Repeat("x", 120))
	text := strings.Join(parts, ". ")

	tests := []struct {
		name string
		max  int
	}{
		{"small", 50},
		{"medium", 100},
		{"default", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(text, tt.max)
			assert.NotEmpty(t, chunks)

			// 拼回去等于原文（忽略空白）
			assert.Equal(t, stripSpace(text), stripSpace(strings.Join(chunks, "")))
			assert.Equal(t, text, strings.Join(chunks, " "))

			for _, c := range chunks {
				if len([]rune(c)) > tt.max {
					// 只有单个超长句子可以超限
					assert.NotContains(t, c, ". ")
				}
			}

			// 确定性与幂等性
			assert.Equal(t, chunks, Chunk(text, tt.max))
			assert.Equal(t, chunks, Chunk(strings.Join(chunks, " "), tt.max))
		})
	}
}

func TestChunkOverlongSentenceStandsAlone(t *testing.T) {
	long := strings.Repeat("a", 30)
	chunks := Chunk("short. "+long+". tail", 10)
	assert.Equal(t, []string{"short.", long + ".", "tail"}, chunks)
}

func TestChunkCollapsesExtraSpacing(t *testing.T) {
	chunks := Chunk("One.  Two.   Three", 500)
	assert.Equal(t, []string{"One. Two. Three"}, chunks)
	assert.Equal(t, chunks, Chunk(strings.Join(chunks, " "), 500))
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
