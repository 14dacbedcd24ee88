package vectorstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

const (
	vectorsFile = "vectors.bin"
	chunksFile  = "chunks.json"
	mappingFile = "mapping.json"

	vectorsMagic   = "SBVX"
	vectorsVersion = uint32(1)
)

var errNoIndex = errors.New("no persisted index")

type snapshot struct {
	vectors   [][]float32
	mapping   []string
	chunks    map[string]ChunkEntry
	updatedAt time.Time
}

// save 先把三份文件写进同级临时目录，再用目录重命名整体替换旧索引。
// 替换过程中崩溃只会留下 dir.old，load 时会把它恢复回来。
func save(dir string, snap snapshot) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-tmp-")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeVectors(filepath.Join(tmp, vectorsFile), snap.vectors, snap.updatedAt); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := writeJSON(filepath.Join(tmp, chunksFile), snap.chunks); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	if err := writeJSON(filepath.Join(tmp, mappingFile), snap.mapping); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}

	old := dir + ".old"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("move current index aside: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		// 尽量把旧索引放回去
		_ = os.Rename(old, dir)
		return fmt.Errorf("swap index dir: %w", err)
	}
	committed = true
	_ = os.RemoveAll(old)
	return nil
}

func load(dir string) (snapshot, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		old := dir + ".old"
		if _, oldErr := os.Stat(old); oldErr != nil {
			return snapshot{}, errNoIndex
		}
		if err := os.Rename(old, dir); err != nil {
			return snapshot{}, fmt.Errorf("restore previous index: %w", err)
		}
	}

	vectors, updatedAt, err := readVectors(filepath.Join(dir, vectorsFile))
	if err != nil {
		return snapshot{}, fmt.Errorf("read vectors: %w", err)
	}
	var mapping []string
	if err := readJSON(filepath.Join(dir, mappingFile), &mapping); err != nil {
		return snapshot{}, fmt.Errorf("read mapping: %w", err)
	}
	chunks := make(map[string]ChunkEntry)
	if err := readJSON(filepath.Join(dir, chunksFile), &chunks); err != nil {
		return snapshot{}, fmt.Errorf("read chunks: %w", err)
	}

	snap := snapshot{vectors: vectors, mapping: mapping, chunks: chunks, updatedAt: updatedAt}
	if err := snap.validate(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// validate 检查 ordinal 与 doc_id 之间是一一对应的。
func (s snapshot) validate() error {
	if len(s.vectors) != len(s.mapping) {
		return fmt.Errorf("index inconsistent: %d vectors, %d mapping entries", len(s.vectors), len(s.mapping))
	}
	if len(s.mapping) != len(s.chunks) {
		return fmt.Errorf("index inconsistent: %d mapping entries, %d chunks", len(s.mapping), len(s.chunks))
	}
	seen := make(map[string]struct{}, len(s.mapping))
	for i, id := range s.mapping {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("index inconsistent: duplicate doc_id %q", id)
		}
		seen[id] = struct{}{}
		if _, ok := s.chunks[id]; !ok {
			return fmt.Errorf("index inconsistent: ordinal %d maps to unknown doc_id %q", i, id)
		}
	}
	return nil
}

func remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.RemoveAll(dir + ".old")
}

func writeVectors(path string, vectors [][]float32, updatedAt time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(vectorsMagic); err != nil {
		return err
	}
	header := []any{vectorsVersion, uint32(len(vectors)), uint32(dims), updatedAt.UnixNano()}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return err
		}
	}
	buf := make([]byte, 4)
	for _, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("ragged vectors: %d vs %d", len(v), dims)
		}
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readVectors(path string) ([][]float32, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(vectorsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, time.Time{}, err
	}
	if string(magic) != vectorsMagic {
		return nil, time.Time{}, errors.New("bad magic")
	}
	var version, count, dims uint32
	var updated int64
	for _, p := range []any{&version, &count, &dims, &updated} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, time.Time{}, err
		}
	}
	if version != vectorsVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported version %d", version)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	const headerSize = int64(len(vectorsMagic) + 4*3 + 8)
	if want := headerSize + int64(count)*int64(dims)*4; info.Size() != want {
		return nil, time.Time{}, fmt.Errorf("vectors file size %d, want %d", info.Size(), want)
	}

	vectors := make([][]float32, count)
	buf := make([]byte, 4)
	for i := range vectors {
		v := make([]float32, dims)
		for j := range v {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, time.Time{}, fmt.Errorf("truncated vectors: %w", err)
			}
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
		vectors[i] = v
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, time.Time{}, errors.New("trailing bytes after vectors")
	}
	return vectors, time.Unix(0, updated).UTC(), nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Sync()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
