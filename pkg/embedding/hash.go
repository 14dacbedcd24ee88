package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// hashClient 用特征哈希生成向量：词和字符三元组散列到固定维度。
// 不依赖外部服务，同样的文本总是得到同样的向量。
type hashClient struct {
	dims int
}

// NewHashClient 返回本地特征哈希 embedding，dims 非正时使用 384。
func NewHashClient(dims int) Client {
	if dims <= 0 {
		dims = 384
	}
	return &hashClient{dims: dims}
}

func (h *hashClient) Model() string {
	return fmt.Sprintf("feature-hash-%d", h.dims)
}

func (h *hashClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *hashClient) embed(text string) []float32 {
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h.add(vec, "w:"+w, 1.0)
		runes := []rune("^" + w + "$")
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "g:"+string(runes[i:i+3]), 0.5)
		}
	}
	if len(words) == 0 {
		// 空文本也返回非零向量，归一化后仍然有效
		vec[0] = 1
	}
	return vec
}

func (h *hashClient) add(vec []float32, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dims))
	sign := 1.0
	if (sum>>63)&1 == 1 {
		sign = -1.0
	}
	vec[idx] += float32(sign * weight)
}
