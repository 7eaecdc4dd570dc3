package embedding

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

type cacheKey [sha256.Size]byte

// EmbeddingCache is a bounded LRU of embeddings. Entries are keyed by a digest of the text so
// chunk-sized keys are not retained.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[cacheKey]*list.Element
}

type cached struct {
	key cacheKey
	vec []float32
}

// NewEmbeddingCache returns a cache holding at most capacity embeddings. capacity <= 0 disables it.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[cacheKey]*list.Element),
	}
}

// Get returns a copy of the embedding cached for text.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return append([]float32(nil), el.Value.(*cached).vec...), true
}

// Set stores a copy of vec for text, evicting the least recently used entry when full.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	if c.capacity <= 0 {
		return
	}
	key := sha256.Sum256([]byte(text))
	vec = append([]float32(nil), vec...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cached).vec = vec
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cached{key: key, vec: vec})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cached).key)
	}
}

func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
