// Package vector provides the nearest-neighbour index that backs the vector store.
package vector

import "context"

// Chunk is a text segment stored next to its embedding. Immutable once indexed.
type Chunk struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
}

// Hit is a single lookup result. ID is the sequential id assigned at insertion.
type Hit struct {
	ID    int64   `json:"id"`
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"` // inner product; cosine similarity for normalized vectors
}

// Index is an embedding index keyed by sequential ids. Ids are assigned in insertion order
// starting at 0 and never reused; Add never removes or rewrites existing entries.
type Index interface {
	// Add appends chunks with their vectors. Every vector is validated before anything is
	// inserted, so a rejected batch leaves the index unchanged.
	Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Chunks returns a copy of the stored chunks in id order.
	Chunks() []Chunk
	// Save writes the whole index into dir, which is created if needed.
	Save(dir string) error
	// Load replaces the index contents with the snapshot in dir.
	Load(dir string) error
	// Clone returns an independent copy that can be saved while the original keeps changing.
	Clone() (Index, error)
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Factory creates an empty index of the given dimension.
type Factory func(dimensions int) (Index, error)
