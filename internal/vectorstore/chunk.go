package vectorstore

import "strings"

// DefaultChunkSize 是单个块的默认字符（rune）上限。
const DefaultChunkSize = 500

// Chunk 按 ". " 切句后贪心打包成不超过 maxChunkSize 个字符的块。
// 句子不会被拆开，单句超长时独占一块。块内句子用单个空格连接，
// 所以 strings.Join(chunks, " ") 再切一次得到相同的结果。
func Chunk(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	for _, s := range sentences {
		sLen := len([]rune(s))
		if currentLen > 0 && currentLen+1+sLen > maxChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(s)
		currentLen += sLen
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSentences 切出非空句子，除最后一段外补回被切掉的句点。
func splitSentences(text string) []string {
	parts := strings.Split(strings.TrimSpace(text), ". ")
	sentences := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(parts)-1 {
			p += "."
		}
		sentences = append(sentences, p)
	}
	return sentences
}
