// Package storage defines the document catalogue: uploaded documents, their chunks, and which
// chunks are already in the vector index.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/docvec/internal/models"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document and chunk persistence operations.
type Storage interface {
	// Document operations
	ReplaceDocument(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, path string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Chunk operations
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)
	ListPendingChunks(ctx context.Context) ([]*models.DocumentChunk, error)
	ListAllChunks(ctx context.Context) ([]*models.DocumentChunk, error)
	MarkChunksIndexed(ctx context.Context, ids []string) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	CountPendingChunks(ctx context.Context) (int64, error)

	Close() error
}
