//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/clone_index_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

const faissIndexFileName = "index.faiss"

// FAISSIndex is a vector index using FAISS IndexFlatIP (inner product on normalized vectors,
// i.e. cosine similarity). FAISS assigns sequential labels, which double as chunk ids.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	chunks     []Chunk
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var flat *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&flat, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      (*C.FaissIndex)(flat),
		dimensions: dimensions,
		chunks:     make([]Chunk, 0),
	}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends chunks with their vectors.
func (f *FAISSIndex) Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := validateBatch(chunks, vectors, f.dimensions); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flatVectors := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		copy(flatVectors[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	ret := C.faiss_Index_add(
		f.index,
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&flatVectors[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

// Search returns the top-k vectors by inner product.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, 0, k)
	for i := 0; i < k; i++ {
		label := labels[i]
		if label < 0 || int(label) >= len(f.chunks) {
			continue
		}
		hits = append(hits, Hit{ID: label, Chunk: f.chunks[label], Score: float64(distances[i])})
	}
	return rankHits(hits, k), nil
}

// Chunks returns a copy of the stored chunks in id order.
func (f *FAISSIndex) Chunks() []Chunk {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out
}

// Clone copies the native index with faiss_clone_index.
func (f *FAISSIndex) Clone() (Index, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var cloned *C.FaissIndex
	if ret := C.faiss_clone_index(f.index, &cloned); ret != 0 {
		return nil, fmt.Errorf("failed to clone FAISS index: %s", faissLastError())
	}
	chunks := make([]Chunk, len(f.chunks))
	copy(chunks, f.chunks)
	return &FAISSIndex{index: cloned, dimensions: f.dimensions, chunks: chunks}, nil
}

// Save writes index.faiss, chunks.json and index.meta into dir.
func (f *FAISSIndex) Save(dir string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if dir == "" {
		return fmt.Errorf("empty snapshot dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	indexPath := filepath.Join(dir, faissIndexFileName)
	cPath := C.CString(indexPath)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := syncFile(indexPath); err != nil {
		return fmt.Errorf("sync FAISS index: %w", err)
	}
	if err := writeChunks(dir, f.chunks); err != nil {
		return err
	}
	return writeMeta(dir, snapshotMeta{Type: f.Type(), Dimensions: f.dimensions, Count: len(f.chunks)})
}

// Load reads the snapshot in dir, replacing the native index and chunk metadata.
func (f *FAISSIndex) Load(dir string) error {
	meta, err := readMeta(dir)
	if err != nil {
		return err
	}
	if meta.Type != f.Type() {
		return fmt.Errorf("snapshot type %q cannot be loaded into %q index", meta.Type, f.Type())
	}
	if meta.Dimensions != f.dimensions {
		return fmt.Errorf("dimension mismatch: snapshot has %d, index expects %d", meta.Dimensions, f.dimensions)
	}
	chunks, err := readChunks(dir, meta.Count)
	if err != nil {
		return err
	}

	cPath := C.CString(filepath.Join(dir, faissIndexFileName))
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if ntotal := int(C.faiss_Index_ntotal(loaded)); ntotal != meta.Count {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("vector count mismatch: meta has %d, index has %d", meta.Count, ntotal)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.chunks = chunks
	return nil
}

func syncFile(path string) error {
	fh, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chunks)
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
