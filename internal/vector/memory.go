package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const memoryVectorsFileName = "vectors.bin"

// MemoryIndex is an in-memory vector index using brute-force inner product search.
// Suitable for tests and small datasets when FAISS is not available.
type MemoryIndex struct {
	dimensions int
	chunks     []Chunk
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		chunks:     make([]Chunk, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add appends chunks with their vectors.
func (m *MemoryIndex) Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := validateBatch(chunks, vectors, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range chunks {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.chunks = append(m.chunks, chunks[i])
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k vectors by inner product (assumes normalized vectors = cosine similarity).
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.chunks) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(m.vectors))
	for i, vec := range m.vectors {
		hits[i] = Hit{ID: int64(i), Chunk: m.chunks[i], Score: innerProduct(query, vec)}
	}
	return rankHits(hits, k), nil
}

// Chunks returns a copy of the stored chunks in id order.
func (m *MemoryIndex) Chunks() []Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Chunk, len(m.chunks))
	copy(out, m.chunks)
	return out
}

// Clone returns a deep copy of the index.
func (m *MemoryIndex) Clone() (Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &MemoryIndex{
		dimensions: m.dimensions,
		chunks:     make([]Chunk, len(m.chunks)),
		vectors:    make([][]float32, len(m.vectors)),
	}
	copy(c.chunks, m.chunks)
	for i, vec := range m.vectors {
		c.vectors[i] = append([]float32(nil), vec...)
	}
	return c, nil
}

// Save writes the index into dir. vectors.bin format: dimension (4), n (4), then n*dimension
// little-endian float32 values. Chunk metadata goes to chunks.json in the same order.
func (m *MemoryIndex) Save(dir string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dir == "" {
		return fmt.Errorf("empty snapshot dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, memoryVectorsFileName))
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeVectors(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync vectors: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close vectors file: %w", err)
	}
	if err := writeChunks(dir, m.chunks); err != nil {
		return err
	}
	return writeMeta(dir, snapshotMeta{Type: m.Type(), Dimensions: m.dimensions, Count: len(m.chunks)})
}

func (m *MemoryIndex) writeVectors(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, vec := range m.vectors {
		if _, err := w.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the snapshot in dir and replaces the in-memory contents. Dimensions must match.
// Returns ErrNoSnapshot if dir holds no snapshot; the index is unchanged on any error.
func (m *MemoryIndex) Load(dir string) error {
	meta, err := readMeta(dir)
	if err != nil {
		return err
	}
	if meta.Type != m.Type() {
		return fmt.Errorf("snapshot type %q cannot be loaded into %q index", meta.Type, m.Type())
	}
	if meta.Dimensions != m.dimensions {
		return fmt.Errorf("dimension mismatch: snapshot has %d, index expects %d", meta.Dimensions, m.dimensions)
	}
	f, err := os.Open(filepath.Join(dir, memoryVectorsFileName))
	if err != nil {
		return fmt.Errorf("open vectors file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if int(n) != meta.Count {
		return fmt.Errorf("vector count mismatch: meta has %d, file has %d", meta.Count, n)
	}
	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	chunks, err := readChunks(dir, meta.Count)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
	m.vectors = vectors
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
