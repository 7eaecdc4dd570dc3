package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Files every backend writes into a snapshot directory.
const (
	metaFileName   = "index.meta"
	chunksFileName = "chunks.json"
)

// ErrNoSnapshot is returned by Load when dir holds no index snapshot.
var ErrNoSnapshot = errors.New("no index snapshot")

// snapshotMeta is the backend-independent header of a snapshot directory.
type snapshotMeta struct {
	Type       string `json:"type"`
	Dimensions int    `json:"dimensions"`
	Count      int    `json:"count"`
}

// ReadSnapshotType returns the index type recorded in the snapshot at dir.
func ReadSnapshotType(dir string) (string, error) {
	meta, err := readMeta(dir)
	if err != nil {
		return "", err
	}
	return meta.Type, nil
}

func writeMeta(dir string, meta snapshotMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal index meta: %w", err)
	}
	return WriteFileSync(filepath.Join(dir, metaFileName), data, 0644)
}

func readMeta(dir string) (snapshotMeta, error) {
	var meta snapshotMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return meta, ErrNoSnapshot
		}
		return meta, fmt.Errorf("read index meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode index meta: %w", err)
	}
	if meta.Dimensions <= 0 || meta.Count < 0 {
		return meta, fmt.Errorf("invalid index meta: dimensions=%d count=%d", meta.Dimensions, meta.Count)
	}
	return meta, nil
}

func writeChunks(dir string, chunks []Chunk) error {
	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	return WriteFileSync(filepath.Join(dir, chunksFileName), data, 0644)
}

func readChunks(dir string, want int) ([]Chunk, error) {
	data, err := os.ReadFile(filepath.Join(dir, chunksFileName))
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	if len(chunks) != want {
		return nil, fmt.Errorf("chunk count mismatch: meta has %d, chunks file has %d", want, len(chunks))
	}
	return chunks, nil
}

// WriteFileSync writes data to path and fsyncs it before returning.
func WriteFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
