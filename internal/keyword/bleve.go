package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/docvec/internal/models"
)

const maxFuzziness = 2

// BleveIndex implements Catalogue using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// entry is what gets indexed for a document. The title drops the file extension so the name's
// words are searchable on their own.
type entry struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	SourcePath  string `json:"source_path"`
	ContentType string `json:"content_type"`
}

func newEntry(doc *models.Document) entry {
	title := doc.Title
	if title == "" {
		title = filepath.Base(doc.SourcePath)
	}
	title = strings.TrimSuffix(title, filepath.Ext(title))
	return entry{
		Title:       title,
		Content:     doc.Content,
		SourcePath:  doc.SourcePath,
		ContentType: doc.ContentType,
	}
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is opened and reused. If the mapping changes, remove the directory to force a
// full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create keyword index directory: %w", err)
		}
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemIndex creates an in-memory index, used when no keyword index path is configured.
func NewMemIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize, no stemming, so Korean and code identifiers match as typed.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("content", textFieldMapping)

	exactFieldMapping := bleve.NewTextFieldMapping()
	exactFieldMapping.Analyzer = keywordanalyzer.Name
	exactFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("source_path", exactFieldMapping)
	docMapping.AddFieldMappingsAt("content_type", exactFieldMapping)

	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces the catalogue entry for doc.
func (b *BleveIndex) Index(_ context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document has no id")
	}
	return b.index.Index(doc.ID, newEntry(doc))
}

// Search runs a match query requiring every term of query. A blank query matches nothing.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]string, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	mq := bleve.NewMatchQuery(query)
	mq.SetOperator(blevequery.MatchQueryOperatorAnd)
	if opts != nil && opts.Fuzziness > 0 {
		f := opts.Fuzziness
		if f > maxFuzziness {
			f = maxFuzziness
		}
		mq.SetFuzziness(f)
	}

	req := bleve.NewSearchRequest(mq)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Delete removes a document from the catalogue. Unknown IDs are not an error.
func (b *BleveIndex) Delete(_ context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the number of catalogued documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
