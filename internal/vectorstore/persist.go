package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/vector"
)

const (
	manifestFileName    = "CURRENT"
	manifestTmpFileName = "CURRENT.tmp"
	snapshotPrefix      = "snapshot-"
	tmpPrefix           = ".tmp-"
)

var errNoManifest = errors.New("no manifest")

// manifest is the content of CURRENT. It names the one snapshot directory that is live.
type manifest struct {
	Version    uint64    `json:"version"`
	Snapshot   string    `json:"snapshot"`
	CreatedAt  time.Time `json:"created_at"`
	Size       int       `json:"size"`
	Dimensions int       `json:"dimensions"`
	IndexType  string    `json:"index_type"`
}

func snapshotDirName(version uint64) string {
	return snapshotPrefix + strconv.FormatUint(version, 10)
}

func (m manifest) validate() error {
	if m.Version == 0 {
		return fmt.Errorf("manifest version must be positive")
	}
	if m.Snapshot != snapshotDirName(m.Version) {
		return fmt.Errorf("manifest snapshot %q does not match version %d", m.Snapshot, m.Version)
	}
	if m.Dimensions <= 0 || m.Size < 0 {
		return fmt.Errorf("invalid manifest: dimensions=%d size=%d", m.Dimensions, m.Size)
	}
	return nil
}

func readManifest(dir string) (manifest, error) {
	var man manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return man, errNoManifest
		}
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	if err := man.validate(); err != nil {
		return man, err
	}
	return man, nil
}

// writeManifest replaces CURRENT atomically: write CURRENT.tmp, fsync, rename, fsync the dir.
// installed reports whether the rename happened, after which CURRENT names man.Snapshot even if
// the directory sync failed.
func writeManifest(dir string, man manifest) (installed bool, err error) {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}
	tmp := filepath.Join(dir, manifestTmpFileName)
	if err := vector.WriteFileSync(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestFileName)); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("install manifest: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return true, fmt.Errorf("sync manifest dir: %w", err)
	}
	return true, nil
}

// writeSnapshot saves idx as snapshot version and points CURRENT at it. Nothing reachable through
// CURRENT changes until the final rename; on error the in-flight directory is removed.
func (m *Manager) writeSnapshot(idx vector.Index, version uint64) (manifest, error) {
	dir := m.cfg.Dir
	tmp := filepath.Join(dir, tmpPrefix+uuid.NewString())

	if err := idx.Save(tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return manifest{}, fmt.Errorf("write snapshot: %w", err)
	}
	if err := syncDir(tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return manifest{}, fmt.Errorf("sync snapshot: %w", err)
	}

	name := snapshotDirName(version)
	final := filepath.Join(dir, name)
	// A leftover from a crash between rename and manifest install; never the live snapshot.
	if err := os.RemoveAll(final); err != nil {
		_ = os.RemoveAll(tmp)
		return manifest{}, fmt.Errorf("clear stale snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		return manifest{}, fmt.Errorf("rename snapshot: %w", err)
	}

	man := manifest{
		Version:    version,
		Snapshot:   name,
		CreatedAt:  m.now().UTC(),
		Size:       idx.Size(),
		Dimensions: idx.Dimensions(),
		IndexType:  idx.Type(),
	}
	installed, err := writeManifest(dir, man)
	switch {
	case err != nil && installed:
		// CURRENT already names final; removing it would leave the canonical path dangling.
		m.logger.Warn("manifest installed but directory sync failed",
			zap.String("snapshot", name), zap.Error(err))
	case err != nil:
		_ = os.RemoveAll(final)
		return manifest{}, err
	}
	return man, nil
}

// loadSnapshot reads CURRENT and the snapshot it names into a fresh index.
func (m *Manager) loadSnapshot() (vector.Index, manifest, error) {
	man, err := readManifest(m.cfg.Dir)
	if err != nil {
		return nil, man, err
	}
	if man.Dimensions != m.dimensions {
		return nil, man, fmt.Errorf("snapshot dimensions %d do not match embedder dimensions %d", man.Dimensions, m.dimensions)
	}
	idx, err := m.factory(man.Dimensions)
	if err != nil {
		return nil, man, fmt.Errorf("create index: %w", err)
	}
	if man.IndexType != idx.Type() {
		_ = idx.Close()
		return nil, man, fmt.Errorf("snapshot index type %q does not match configured %q", man.IndexType, idx.Type())
	}
	snapDir := filepath.Join(m.cfg.Dir, man.Snapshot)
	if typ, err := vector.ReadSnapshotType(snapDir); err != nil {
		_ = idx.Close()
		return nil, man, fmt.Errorf("read %s: %w", man.Snapshot, err)
	} else if typ != man.IndexType {
		_ = idx.Close()
		return nil, man, fmt.Errorf("%s holds a %q index, manifest says %q", man.Snapshot, typ, man.IndexType)
	}
	if err := idx.Load(snapDir); err != nil {
		_ = idx.Close()
		return nil, man, fmt.Errorf("load %s: %w", man.Snapshot, err)
	}
	if idx.Size() != man.Size {
		_ = idx.Close()
		return nil, man, fmt.Errorf("snapshot holds %d vectors, manifest says %d", idx.Size(), man.Size)
	}
	return idx, man, nil
}

// cleanup removes in-flight directories and, when prune is set, every snapshot except keep.
func (m *Manager) cleanup(keep string, prune bool) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		m.logger.Warn("list vector store dir", zap.String("dir", m.cfg.Dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		name := e.Name()
		stale := strings.HasPrefix(name, tmpPrefix) ||
			name == manifestTmpFileName ||
			(prune && strings.HasPrefix(name, snapshotPrefix) && name != keep)
		if !stale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.cfg.Dir, name)); err != nil {
			m.logger.Warn("remove stale snapshot", zap.String("path", name), zap.Error(err))
			continue
		}
		m.logger.Debug("removed stale snapshot", zap.String("path", name))
	}
}

// syncDir is swapped out in tests to simulate fsync failures.
var syncDir = fsyncDir

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// highestSnapshotVersion returns the largest snapshot version present in dir, committed or not.
func highestSnapshotVersion(dir string) uint64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var highest uint64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), snapshotPrefix), 10, 64)
		if err == nil && v > highest {
			highest = v
		}
	}
	return highest
}
