package embedding

import (
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestEmbeddingCache_ReturnsCopies(t *testing.T) {
	c := NewEmbeddingCache(4)
	src := []float32{1, 2}
	c.Set("k", src)
	src[0] = 99
	v, _ := c.Get("k")
	if v[0] != 1 {
		t.Errorf("cache must not alias the caller's slice, got %v", v)
	}
	v[1] = 42
	again, _ := c.Get("k")
	if again[1] != 2 {
		t.Errorf("Get must return a copy, got %v", again)
	}
}

func TestEmbeddingCache_Disabled(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache should not store entries")
	}
	if c.Len() != 0 {
		t.Errorf("Len=%d", c.Len())
	}
}

func TestEmbeddingCache_RecentUseSurvivesEviction(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("first", []float32{1})
	c.Set("second", []float32{2})
	c.Get("first")
	c.Set("third", []float32{3})

	if _, ok := c.Get("second"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if v, ok := c.Get("first"); !ok || v[0] != 1 {
		t.Errorf("recently read entry should remain, got %v %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
}
