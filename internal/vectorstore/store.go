// Package vectorstore 是每个项目独立的向量索引：内存中做精确内积检索，
// 磁盘上以 vectors.bin、chunks.json、mapping.json 三个文件作为一个整体持久化。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"sitebot-go/pkg/embedding"
	"sitebot-go/pkg/log"
)

// DefaultThreshold 是检索结果的最低相似度（不含）。
const DefaultThreshold = 0.3

// DefaultTopK 是未指定时返回的结果数。
const DefaultTopK = 5

// ChunkEntry 是索引中的一块文本。
type ChunkEntry struct {
	DocID      string    `json:"doc_id"`
	Text       string    `json:"text"`
	Filename   string    `json:"filename"`
	ChunkIndex int       `json:"chunk_index"`
	Timestamp  time.Time `json:"timestamp"`
}

// Result 是一条检索结果。
type Result struct {
	Text       string  `json:"text"`
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
	ChunkID    string  `json:"chunk_id"`
}

// Options 配置 Store。
type Options struct {
	Threshold float64
}

// Store 保存向量与块。Add 与持久化互斥，Search 可并发。
type Store struct {
	mu        sync.RWMutex
	dir       string
	embedder  embedding.Client
	threshold float64

	vectors    [][]float32
	mapping    []string // ordinal -> doc_id
	chunks     map[string]ChunkEntry
	perFile    map[string]int
	lastUpdate time.Time
	recovered  bool
}

// New 创建空索引。dir 为空时只在内存中工作。
func New(dir string, embedder embedding.Client, opts Options) *Store {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Store{
		dir:       dir,
		embedder:  embedder,
		threshold: threshold,
		chunks:    make(map[string]ChunkEntry),
		perFile:   make(map[string]int),
	}
}

// Open 从 dir 载入索引。文件缺失或互相不一致时返回空索引，Recovered() 为 true。
func Open(dir string, embedder embedding.Client, opts Options) *Store {
	s := New(dir, embedder, opts)
	snap, err := load(dir)
	if err != nil {
		if !errors.Is(err, errNoIndex) {
			log.Warnf("[VectorStore] 索引载入失败，使用空索引: dir=%s, err=%v", dir, err)
			s.recovered = true
		}
		return s
	}
	s.vectors = snap.vectors
	s.mapping = snap.mapping
	s.chunks = snap.chunks
	for _, c := range snap.chunks {
		if c.ChunkIndex+1 > s.perFile[c.Filename] {
			s.perFile[c.Filename] = c.ChunkIndex + 1
		}
	}
	s.lastUpdate = snap.updatedAt
	log.Infof("[VectorStore] 已载入索引: dir=%s, size=%d", dir, len(s.vectors))
	return s
}

// Add 对每个块做 embedding 与 L2 归一化后按顺序追加，并把三份文件作为整体落盘。
// 任一步失败时内存与磁盘状态都保持不变。
func (s *Store) Add(ctx context.Context, chunks []string, filename string) error {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c != "" {
			texts = append(texts, c)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vectors, err := s.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	if len(s.vectors) > 0 {
		dims := len(s.vectors[0])
		for _, v := range vectors {
			if len(v) != dims {
				return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(v), dims)
			}
		}
	}

	prevVectors, prevMapping, prevCount := len(s.vectors), len(s.mapping), s.perFile[filename]
	addedIDs := make([]string, 0, len(texts))
	now := time.Now().UTC()
	base := s.perFile[filename]
	for i, text := range texts {
		idx := base + i
		docID := filename + "#" + strconv.Itoa(idx)
		s.vectors = append(s.vectors, normalize(vectors[i]))
		s.mapping = append(s.mapping, docID)
		s.chunks[docID] = ChunkEntry{
			DocID:      docID,
			Text:       text,
			Filename:   filename,
			ChunkIndex: idx,
			Timestamp:  now,
		}
		addedIDs = append(addedIDs, docID)
	}
	s.perFile[filename] = base + len(texts)

	if s.dir != "" {
		if err := save(s.dir, snapshot{vectors: s.vectors, mapping: s.mapping, chunks: s.chunks, updatedAt: now}); err != nil {
			s.vectors = s.vectors[:prevVectors]
			s.mapping = s.mapping[:prevMapping]
			for _, id := range addedIDs {
				delete(s.chunks, id)
			}
			s.perFile[filename] = prevCount
			return fmt.Errorf("persist index: %w", err)
		}
	}
	s.lastUpdate = now
	log.Infof("[VectorStore] 追加 %d 个块, filename=%s, size=%d", len(texts), filename, len(s.vectors))
	return nil
}

// Search 返回相似度严格大于阈值的前 topK 个结果，按相似度降序。空索引返回空切片。
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	s.mu.RLock()
	empty := len(s.vectors) == 0
	s.mu.RUnlock()
	if empty {
		return []Result{}, nil
	}

	q, err := embedding.CreateEmbedding(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	q = normalize(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		ordinal int
		score   float64
	}
	candidates := make([]scored, 0, len(s.vectors))
	for i, v := range s.vectors {
		if len(v) != len(q) {
			continue
		}
		score := dot(v, q)
		if score > s.threshold {
			candidates = append(candidates, scored{ordinal: i, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		docID := s.mapping[c.ordinal]
		entry := s.chunks[docID]
		results = append(results, Result{
			Text:       entry.Text,
			Filename:   entry.Filename,
			Similarity: c.score,
			ChunkID:    docID,
		})
	}
	return results, nil
}

// Size 返回索引中的向量数。
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Filenames 返回索引里出现过的来源文件名。
func (s *Store) Filenames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.perFile))
	for name := range s.perFile {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Recovered 表示 Open 时发现磁盘索引损坏并退回了空索引。
func (s *Store) Recovered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovered
}

func (s *Store) Dir() string {
	return s.dir
}

// Reset 清空内存与磁盘上的索引，用于从源数据重建。
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.mapping = nil
	s.chunks = make(map[string]ChunkEntry)
	s.perFile = make(map[string]int)
	s.recovered = false
	if s.dir == "" {
		return nil
	}
	return remove(s.dir)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
