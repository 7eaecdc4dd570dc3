// Package vectorstore owns the embedding index: it decides between building and extending it,
// batches writes to disk by a save interval, and swaps snapshots in atomically.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/embedding"
	"github.com/hyperjump/docvec/internal/vector"
)

// DefaultSaveInterval is the number of documents added between automatic persists.
const DefaultSaveInterval = 10

// Config configures a Manager.
type Config struct {
	// Dir holds the CURRENT manifest and snapshot directories.
	Dir string
	// SaveInterval is the document count that triggers an automatic persist. <= 0 means default.
	SaveInterval int
	// IndexType selects the index backend ("memory" or "faiss").
	IndexType string
}

// State is the lifecycle state of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateEmpty               // no snapshot on disk; the first add builds the index
	StateLoaded              // index restored from the snapshot
	StatePopulated           // index changed since construction
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StatePopulated:
		return "populated"
	default:
		return "uninitialized"
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	State            string     `json:"state"`
	Size             int        `json:"size"`
	Dimensions       int        `json:"dimensions"`
	IndexType        string     `json:"index_type"`
	DocsSincePersist int        `json:"docs_since_persist"`
	SaveInterval     int        `json:"save_interval"`
	SnapshotVersion  uint64     `json:"snapshot_version"`
	Persists         int        `json:"persists"`
	LastPersist      *time.Time `json:"last_persist,omitempty"`
	LoadError        string     `json:"load_error,omitempty"`
}

// Manager serializes mutation of the index and persists it to Config.Dir.
type Manager struct {
	cfg        Config
	embedder   embedding.Embedder
	factory    vector.Factory
	dimensions int
	logger     *zap.Logger
	now        func() time.Time

	// writeMu serializes AddTexts and CreateOrUpdate end to end.
	writeMu sync.Mutex
	// persistMu serializes whole persist sequences; version is only touched under it.
	persistMu sync.Mutex
	version   uint64

	mu               sync.RWMutex
	index            vector.Index
	state            State
	docsSincePersist int
	lastPersist      time.Time
	activeVersion    uint64
	persists         int
	loadErr          error
	closed           bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIndexFactory overrides the index backend chosen from Config.IndexType.
func WithIndexFactory(f vector.Factory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

// WithClock sets the time source used for snapshot timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager that owns embedder and loads the snapshot in cfg.Dir if there is one.
// A missing or unreadable snapshot is not an error: the manager starts empty and the cause is
// reported by LoadError.
func New(cfg Config, embedder embedding.Embedder, opts ...ManagerOption) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("vector store dir is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = DefaultSaveInterval
	}
	m := &Manager{
		cfg:        cfg,
		embedder:   embedder,
		dimensions: embedder.Dimensions(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dimensions <= 0 {
		return nil, fmt.Errorf("embedder reports invalid dimensions %d", m.dimensions)
	}
	if m.factory == nil {
		factory, err := m.defaultFactory()
		if err != nil {
			return nil, err
		}
		m.factory = factory
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}
	m.load()
	return m, nil
}

func (m *Manager) defaultFactory() (vector.Factory, error) {
	factory, err := vector.NewFactory(m.cfg.IndexType)
	if err == nil {
		return factory, nil
	}
	if vector.IndexType(m.cfg.IndexType) == vector.IndexTypeFAISS {
		m.logger.Warn("FAISS not available, falling back to memory index", zap.Error(err))
		return vector.NewFactory(string(vector.IndexTypeMemory))
	}
	return nil, err
}

// load restores the snapshot named by CURRENT. It never fails: any problem leaves the manager
// empty with loadErr set.
func (m *Manager) load() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.version = highestSnapshotVersion(m.cfg.Dir)
	idx, man, err := m.loadSnapshot()
	switch {
	case err == nil:
		m.index = idx
		m.state = StateLoaded
		m.lastPersist = man.CreatedAt
		m.activeVersion = man.Version
		m.cleanup(man.Snapshot, true)
		m.logger.Info("loaded vector store",
			zap.String("dir", m.cfg.Dir),
			zap.Uint64("version", man.Version),
			zap.Int("size", man.Size),
			zap.String("index_type", man.IndexType))
	case errors.Is(err, errNoManifest):
		m.state = StateEmpty
		m.cleanup("", true)
		m.logger.Info("no vector store snapshot, starting empty", zap.String("dir", m.cfg.Dir))
	default:
		m.state = StateEmpty
		m.loadErr = newError("load", ErrLoad, err)
		m.cleanup("", false)
		m.logger.Error("failed to load vector store, starting empty",
			zap.String("dir", m.cfg.Dir), zap.Error(m.loadErr))
	}
}

// AddTexts embeds chunks and appends them to the index, building it on first use. Once the
// documents added since the last persist reach the save interval the index is persisted.
//
// An embedding failure leaves the index untouched. If only the triggered persist fails the chunks
// stay in memory and the returned error has kind ErrPersistence.
func (m *Manager) AddTexts(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	pending, err := m.add(ctx, "add_texts", chunks)
	if err != nil {
		return err
	}
	if pending < m.cfg.SaveInterval {
		return nil
	}
	if err := m.persist(ctx, false); err != nil {
		return newError("add_texts", ErrPersistence, err)
	}
	return nil
}

// CreateOrUpdate rebuilds the index from chunks alone when forceRebuild is set, otherwise appends
// them. Either way the index is persisted before returning. A failed rebuild leaves the previous
// index active.
func (m *Manager) CreateOrUpdate(ctx context.Context, chunks []vector.Chunk, forceRebuild bool) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if forceRebuild {
		if err := m.rebuild(ctx, chunks); err != nil {
			return err
		}
	} else if len(chunks) > 0 {
		if _, err := m.add(ctx, "create_or_update", chunks); err != nil {
			return err
		}
	}
	if err := m.persist(ctx, true); err != nil {
		return newError("create_or_update", ErrPersistence, err)
	}
	return nil
}

// Persist writes the current index to disk. It is a no-op when there is no index.
func (m *Manager) Persist(ctx context.Context) error {
	if err := m.persist(ctx, true); err != nil {
		return newError("persist", ErrPersistence, err)
	}
	return nil
}

// add embeds chunks then inserts them, returning the updated docsSincePersist. Caller holds writeMu.
func (m *Manager) add(ctx context.Context, op string, chunks []vector.Chunk) (int, error) {
	vectors, err := m.embed(ctx, chunks)
	if err != nil {
		return 0, newError(op, ErrEmbedding, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, newError(op, nil, errClosed)
	}
	if m.index == nil {
		idx, err := vector.Build(ctx, m.factory, m.dimensions, chunks, vectors)
		if err != nil {
			return 0, newError(op, nil, fmt.Errorf("build index: %w", err))
		}
		m.index = idx
		m.logger.Info("built vector index", zap.Int("chunks", len(chunks)), zap.String("index_type", idx.Type()))
	} else if err := m.index.Add(ctx, chunks, vectors); err != nil {
		return 0, newError(op, nil, fmt.Errorf("extend index: %w", err))
	}
	m.state = StatePopulated
	m.docsSincePersist += len(chunks)
	m.logger.Debug("added chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("size", m.index.Size()),
		zap.Int("docs_since_persist", m.docsSincePersist))
	return m.docsSincePersist, nil
}

// rebuild builds a new index from chunks and swaps it in. Caller holds writeMu.
func (m *Manager) rebuild(ctx context.Context, chunks []vector.Chunk) error {
	vectors, err := m.embed(ctx, chunks)
	if err != nil {
		return newError("rebuild", ErrEmbedding, err)
	}
	idx, err := vector.Build(ctx, m.factory, m.dimensions, chunks, vectors)
	if err != nil {
		return newError("rebuild", nil, fmt.Errorf("build index: %w", err))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = idx.Close()
		return newError("rebuild", nil, errClosed)
	}
	old := m.index
	m.index = idx
	m.state = StatePopulated
	m.docsSincePersist = len(chunks)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.logger.Info("rebuilt vector index", zap.Int("chunks", len(chunks)))
	return nil
}

func (m *Manager) embed(ctx context.Context, chunks []vector.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != m.dimensions {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), m.dimensions)
		}
	}
	return vectors, nil
}

// persist snapshots the index. An explicit persist clears the pending count; an interval-triggered
// one keeps the remainder past the last whole interval. Documents added while the snapshot was
// being written stay counted either way, and a rebuild that swapped the index in meanwhile owns
// the counter outright.
func (m *Manager) persist(ctx context.Context, explicit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	if m.index == nil || m.closed {
		m.mu.RUnlock()
		return nil
	}
	src := m.index
	clone, err := src.Clone()
	covered := m.docsSincePersist
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("clone index: %w", err)
	}
	defer clone.Close()

	start := m.now()
	version := m.version + 1
	man, err := m.writeSnapshot(clone, version)
	if err != nil {
		m.logger.Error("failed to persist vector store", zap.Uint64("version", version), zap.Error(err))
		return err
	}
	m.version = version

	m.mu.Lock()
	switch {
	case m.index != src:
	case explicit:
		m.docsSincePersist -= covered
	default:
		m.docsSincePersist -= covered - covered%m.cfg.SaveInterval
	}
	m.lastPersist = man.CreatedAt
	m.activeVersion = version
	m.persists++
	m.mu.Unlock()

	m.cleanup(man.Snapshot, true)
	m.logger.Info("persisted vector store",
		zap.Uint64("version", version),
		zap.Int("size", man.Size),
		zap.Duration("took", m.now().Sub(start)))
	return nil
}

// Search embeds query and returns the k nearest chunks. It returns nil when the index is empty.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]vector.Hit, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newError("search", ErrEmbedding, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return nil, nil
	}
	hits, err := m.index.Search(ctx, vec, k)
	if err != nil {
		return nil, newError("search", nil, err)
	}
	return hits, nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LoadError returns the error that made the manager start empty, if any.
func (m *Manager) LoadError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadErr
}

// Size returns the number of chunks in the index.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return 0
	}
	return m.index.Size()
}

// Chunks returns the indexed chunks in id order.
func (m *Manager) Chunks() []vector.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return nil
	}
	return m.index.Chunks()
}

// Status returns a snapshot of the manager's counters.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{
		State:            m.state.String(),
		Dimensions:       m.dimensions,
		DocsSincePersist: m.docsSincePersist,
		SaveInterval:     m.cfg.SaveInterval,
		SnapshotVersion:  m.activeVersion,
		Persists:         m.persists,
	}
	if m.index != nil {
		st.Size = m.index.Size()
		st.IndexType = m.index.Type()
	}
	if !m.lastPersist.IsZero() {
		t := m.lastPersist
		st.LastPersist = &t
	}
	if m.loadErr != nil {
		st.LoadError = m.loadErr.Error()
	}
	return st
}

var errClosed = errors.New("manager is closed")

// Close releases the index and the embedder. Unpersisted chunks are lost.
func (m *Manager) Close() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	if m.index != nil {
		errs = append(errs, m.index.Close())
		m.index = nil
	}
	errs = append(errs, m.embedder.Close())
	return errors.Join(errs...)
}
