package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects handler calls.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.paths {
		if p == path {
			n++
		}
	}
	return n
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// extFilter accepts .txt files and excludes anything under a "skip" directory.
type extFilter struct{}

func (extFilter) Accept(rel string) bool {
	return strings.HasSuffix(rel, ".txt") && !extFilter{}.Excluded(rel)
}

func (extFilter) Excluded(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "skip" {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, roots []string, ingest, remove *recorder, opts ...WatcherOption) *Watcher {
	t.Helper()
	var onIngest, onRemove Handler
	if ingest != nil {
		onIngest = ingest.handle
	}
	if remove != nil {
		onRemove = remove.handle
	}
	opts = append([]WatcherOption{WithDebounce(50 * time.Millisecond)}, opts...)
	w := NewWatcher(roots, extFilter{}, onIngest, onRemove, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebounceAndFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	ingested := &recorder{}
	startWatcher(t, []string{dir}, ingested, nil)

	fPath := filepath.Join(sub, "f.txt")
	for i := 0; i < 3; i++ {
		if err := writeFile(fPath, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(sub, "image.png"), "png"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return ingested.count(fPath) > 0 })
	time.Sleep(200 * time.Millisecond)
	if n := ingested.count(fPath); n != 1 {
		t.Errorf("f.txt ingested %d times, want 1 after debounce", n)
	}
	for _, p := range ingested.all() {
		if strings.HasSuffix(p, ".png") {
			t.Errorf("unsupported file ingested: %s", p)
		}
	}
}

func TestWatcher_RemoveEvent(t *testing.T) {
	dir := t.TempDir()
	fPath := filepath.Join(dir, "gone.txt")
	if err := writeFile(fPath, "bye"); err != nil {
		t.Fatal(err)
	}
	removed := &recorder{}
	startWatcher(t, []string{dir}, nil, removed)

	if err := os.Remove(fPath); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return removed.count(fPath) == 1 })
}

func TestWatcher_SyncExistingFiles_ingestsAcceptedFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]bool{
		"a.txt":           true,
		"nested/b.txt":    true,
		"c.png":           false,
		"skip/hidden.txt": false,
	}
	for name := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := mkdirAll(filepath.Dir(path)); err != nil {
			t.Fatal(err)
		}
		if err := writeFile(path, "content"); err != nil {
			t.Fatal(err)
		}
	}
	ingested := &recorder{}
	w := startWatcher(t, []string{dir}, ingested, nil)
	w.SyncExistingFiles()

	for name, want := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if got := ingested.count(path) > 0; got != want {
			t.Errorf("%s ingested = %v, want %v", name, got, want)
		}
	}
}

func TestWatcher_SyncExistingFiles_nonRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := mkdirAll(filepath.Join(dir, "nested")); err != nil {
		t.Fatal(err)
	}
	top := filepath.Join(dir, "top.txt")
	deep := filepath.Join(dir, "nested", "deep.txt")
	for _, p := range []string{top, deep} {
		if err := writeFile(p, "content"); err != nil {
			t.Fatal(err)
		}
	}
	ingested := &recorder{}
	w := startWatcher(t, []string{dir}, ingested, nil, WithRecursive(false))
	w.SyncExistingFiles()

	if ingested.count(top) != 1 {
		t.Errorf("top-level file not ingested: %v", ingested.all())
	}
	if ingested.count(deep) != 0 {
		t.Errorf("nested file ingested without recursion: %v", ingested.all())
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads", "incoming")
	w := startWatcher(t, []string{root}, &recorder{}, nil)

	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("root not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("root is not a directory")
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_HandleNewDirectory_ingestsFilesInNewFolder(t *testing.T) {
	dir := t.TempDir()
	ingested := &recorder{}
	startWatcher(t, []string{dir}, ingested, nil)

	// Build the folder elsewhere and move it in so its contents predate the watch.
	staging := filepath.Join(t.TempDir(), "batch")
	if err := mkdirAll(filepath.Join(staging, "inner")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(staging, "one.txt"), "1"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(staging, "inner", "two.txt"), "2"); err != nil {
		t.Fatal(err)
	}
	moved := filepath.Join(dir, "batch")
	if err := os.Rename(staging, moved); err != nil {
		t.Skipf("rename across temp dirs unsupported: %v", err)
	}

	one := filepath.Join(moved, "one.txt")
	two := filepath.Join(moved, "inner", "two.txt")
	waitFor(t, func() bool { return ingested.count(one) > 0 && ingested.count(two) > 0 })

	// The new folder is watched too.
	three := filepath.Join(moved, "inner", "three.txt")
	if err := writeFile(three, "3"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ingested.count(three) > 0 })
}

func TestWatcher_ExcludedDirectoryIgnored(t *testing.T) {
	dir := t.TempDir()
	ingested := &recorder{}
	startWatcher(t, []string{dir}, ingested, nil)

	skip := filepath.Join(dir, "skip")
	if err := mkdirAll(skip); err != nil {
		t.Fatal(err)
	}
	hidden := filepath.Join(skip, "hidden.txt")
	visible := filepath.Join(dir, "visible.txt")
	if err := writeFile(hidden, "no"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(visible, "yes"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ingested.count(visible) > 0 })
	time.Sleep(150 * time.Millisecond)
	if ingested.count(hidden) != 0 {
		t.Errorf("excluded file ingested: %v", ingested.all())
	}
}

func TestWatcher_StopCancelsPendingIngest(t *testing.T) {
	dir := t.TempDir()
	ingested := &recorder{}
	w := startWatcher(t, []string{dir}, ingested, nil, WithDebounce(time.Second))

	fPath := filepath.Join(dir, "late.txt")
	if err := writeFile(fPath, "late"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	time.Sleep(1200 * time.Millisecond)
	if n := ingested.count(fPath); n != 0 {
		t.Errorf("ingested %d times after Stop", n)
	}
	// Stop is idempotent.
	w.Stop()
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/b/c/d", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/x/y", false},
	}
	for _, tt := range tests {
		if got := inDir(filepath.FromSlash(tt.dir), filepath.FromSlash(tt.path)); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
