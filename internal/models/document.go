// Package models defines the catalogue records for uploaded documents and their chunks.
package models

import "time"

// Document is an ingested source file.
type Document struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	SourcePath  string    `json:"source_path" db:"source_path"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	ModTime     time.Time `json:"mod_time" db:"mod_time"`
	Content     string    `json:"content,omitempty" db:"content"`
	ChunkCount  int       `json:"chunk_count" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DocumentChunk is one chunk of a document. Indexed is set once the chunk is in the vector index.
type DocumentChunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Indexed    bool      `json:"indexed" db:"indexed"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Unchanged reports whether a file with the given size and modification time matches what was
// ingested for d.
func (d *Document) Unchanged(size int64, modTime time.Time) bool {
	return d.Size == size && d.ModTime.Equal(modTime)
}
