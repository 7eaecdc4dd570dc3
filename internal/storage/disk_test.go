package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f1.txt"), "hello")
	writeFile(t, filepath.Join(dir, "store", "CURRENT"), "ab")
	writeFile(t, filepath.Join(dir, "store", "snapshot-1", "vectors.bin"), "cdef")

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{filepath.Join(dir, "f1.txt")}, 5},
		{"nested directory", []string{filepath.Join(dir, "store")}, 6},
		{"several paths", []string{filepath.Join(dir, "f1.txt"), filepath.Join(dir, "store")}, 11},
		{"missing and empty paths", []string{filepath.Join(dir, "nope"), ""}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}

func TestDiskUsageBytes_SQLiteSideFiles(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "catalogue.db")
	writeFile(t, db, "1234")
	writeFile(t, db+"-wal", "56")
	writeFile(t, db+"-shm", "7")

	got, err := DiskUsageBytes(db)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("got %d bytes, want 7", got)
	}
}
