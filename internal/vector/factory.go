package vector

import (
	"context"
	"fmt"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for small datasets (<100k vectors).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses FAISS IndexFlatIP. Requires the FAISS library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "faiss".
func NewVectorIndex(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
}

// NewFactory returns a Factory for indexType. The type is validated up front so a bad
// configuration fails at startup instead of on the first insert.
func NewFactory(indexType string) (Factory, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
	case IndexTypeFAISS:
		if !IsFAISSAvailable() {
			return nil, fmt.Errorf("FAISS not available: build with -tags=faiss and install FAISS library")
		}
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
	return func(dimensions int) (Index, error) { return NewVectorIndex(indexType, dimensions) }, nil
}

// Build creates a new index from chunks and their vectors. Given identical input order and
// vectors the result is identical.
func Build(ctx context.Context, factory Factory, dimensions int, chunks []Chunk, vectors [][]float32) (Index, error) {
	idx, err := factory(dimensions)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if err := idx.Add(ctx, chunks, vectors); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}

func validateBatch(chunks []Chunk, vectors [][]float32, dimensions int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != dimensions {
			return fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(vec), dimensions)
		}
	}
	return nil
}
