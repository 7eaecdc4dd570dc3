// Package keyword keeps a full-text catalogue of uploaded documents so uploads can be listed and
// filtered by the words in their title or text.
package keyword

import (
	"context"

	"github.com/hyperjump/docvec/internal/models"
)

// SearchOptions optional parameters for catalogue lookups. Nil means exact term matching.
type SearchOptions struct {
	// Fuzziness is the maximum edit distance per term (0, 1 or 2).
	Fuzziness int
}

// Catalogue defines keyword catalogue operations.
type Catalogue interface {
	Index(ctx context.Context, doc *models.Document) error
	// Search returns the IDs of documents containing every term of query, best match first.
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]string, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of documents in the catalogue.
	DocCount() (uint64, error)
	Close() error
}
