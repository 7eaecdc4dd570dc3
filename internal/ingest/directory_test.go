package ingest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProgress struct {
	total, done int
	finished    bool
}

func (p *countingProgress) Start(total int) { p.total = total }
func (p *countingProgress) Increment()      { p.done++ }
func (p *countingProgress) Finish()         { p.finished = true }

func TestIngestDirectory(t *testing.T) {
	filter, err := NewFilter([]string{"**/.*", "drafts/**"})
	require.NoError(t, err)
	f := newFixture(t, WithFilter(filter))
	root := filepath.Join(f.dir, "corpus")

	writeFile(t, filepath.Join(root, "a.txt"), paragraphs(2, "one"))
	writeFile(t, filepath.Join(root, "sub", "b.md"), paragraphs(1, "two"))
	writeFile(t, filepath.Join(root, ".git", "config.txt"), "hidden")
	writeFile(t, filepath.Join(root, "drafts", "c.txt"), "excluded")
	writeFile(t, filepath.Join(root, "image.png"), "not text")
	writeFile(t, filepath.Join(root, "broken.pdf"), "not a pdf")

	progress := &countingProgress{}
	res, err := f.svc.IngestDirectory(context.Background(), root, progress)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ingested)
	assert.Equal(t, 3, res.Chunks)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, filepath.Join(root, "broken.pdf"), res.Failed[0].Path)

	assert.Equal(t, 3, progress.total)
	assert.Equal(t, 3, progress.done)
	assert.True(t, progress.finished)
	assert.Equal(t, 3, f.manager.Size())

	again, err := f.svc.IngestDirectory(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Zero(t, again.Ingested)
}

func TestIngestDirectory_NotADirectory(t *testing.T) {
	f := newFixture(t)
	file := writeFile(t, filepath.Join(f.dir, "a.txt"), "x")

	_, err := f.svc.IngestDirectory(context.Background(), file, nil)
	assert.Error(t, err)
	_, err = f.svc.IngestDirectory(context.Background(), filepath.Join(f.dir, "missing"), nil)
	assert.Error(t, err)
}

func TestIngestDirectory_Cancelled(t *testing.T) {
	f := newFixture(t)
	root := filepath.Join(f.dir, "corpus")
	writeFile(t, filepath.Join(root, "a.txt"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.IngestDirectory(ctx, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilter(t *testing.T) {
	filter, err := NewFilter([]string{"**/.*", "**/~$*", "archive/**"})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"report.pdf", true},
		{"sub/dir/notes.md", true},
		{".env.txt", false},
		{"sub/.hidden.txt", false},
		{"~$report.docx", false},
		{"archive/2020/old.txt", false},
		{"photo.jpg", false},
		{"README", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, filter.Accept(tt.path), "Accept(%q)", tt.path)
	}

	var none *Filter
	assert.True(t, none.Accept("a.txt"))
	assert.False(t, none.Excluded(".hidden"))
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	_, err := NewFilter([]string{"[unclosed"})
	assert.Error(t, err)
}

func TestBarProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewBarProgress(&buf)
	p.Start(2)
	p.Increment()
	p.Increment()
	p.Finish()

	empty := NewBarProgress(&buf)
	empty.Start(0)
	empty.Increment()
	empty.Finish()
}
