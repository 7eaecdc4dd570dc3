// Package chunker splits extracted text into bounded, overlapping chunks.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/docvec/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order; the empty separator splits into single characters.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker is a recursive character splitter. Sizes are counted in runes.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a chunker. Overlap must be smaller than size.
func New(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap returns the configured chunk overlap.
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Split splits text into chunks of at most chunkSize runes, except for single pieces that cannot
// be split further.
func (c *Chunker) Split(text string) []string {
	return c.split(text, separators)
}

// Chunk normalizes each segment, splits it, and numbers the chunks across all segments.
// Chunk IDs are derived from docID and position so re-chunking identical input is stable.
func (c *Chunker) Chunk(docID string, segments []string) []*models.DocumentChunk {
	var chunks []*models.DocumentChunk
	for _, seg := range segments {
		for _, text := range c.Split(Normalize(seg)) {
			idx := len(chunks)
			chunks = append(chunks, &models.DocumentChunk{
				ID:         fmt.Sprintf("%s_%d", docID, idx),
				DocumentID: docID,
				Content:    text,
				ChunkIndex: idx,
			})
		}
	}
	return chunks
}

func (c *Chunker) split(text string, seps []string) []string {
	separator := seps[len(seps)-1]
	var rest []string
	for i, s := range seps {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = seps[i+1:]
			break
		}
	}

	var final, good []string
	for _, s := range splitNonEmpty(text, separator) {
		if runeLen(s) < c.chunkSize {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, s)
		} else {
			final = append(final, c.split(s, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good, separator)...)
	}
	return final
}

// merge joins small pieces greedily up to chunkSize, carrying at most chunkOverlap runes of
// trailing pieces into the next chunk.
func (c *Chunker) merge(splits []string, separator string) []string {
	sepLen := runeLen(separator)
	var (
		docs    []string
		current []string
		total   int
	)
	joinedLen := func(l int) int {
		if len(current) > 0 {
			return total + l + sepLen
		}
		return total + l
	}
	for _, s := range splits {
		l := runeLen(s)
		if joinedLen(l) > c.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				docs = append(docs, doc)
			}
			for total > c.chunkOverlap || (total > 0 && joinedLen(l) > c.chunkSize) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, s)
		total += l
	}
	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func splitNonEmpty(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.Split(text, separator)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
