// Package chunkcache holds resident chunks keyed by position.
package chunkcache

import (
	"sort"
	"sync"

	"voxelstream.ai/internal/chunks"
)

// Cache is safe for concurrent use. It has no eviction policy of its own.
type Cache struct {
	mu     sync.RWMutex
	chunks map[chunks.Pos]*chunks.Chunk
}

func New() *Cache {
	return &Cache{chunks: map[chunks.Pos]*chunks.Chunk{}}
}

func (c *Cache) Get(pos chunks.Pos) (*chunks.Chunk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chunks[pos]
	return ch, ok
}

// Put stores ch at pos, replacing any previous entry.
func (c *Cache) Put(pos chunks.Pos, ch *chunks.Chunk) {
	c.mu.Lock()
	c.chunks[pos] = ch
	c.mu.Unlock()
}

func (c *Cache) Remove(pos chunks.Pos) (*chunks.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chunks[pos]
	if ok {
		delete(c.chunks, pos)
	}
	return ch, ok
}

func (c *Cache) Contains(pos chunks.Pos) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.chunks[pos]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

// All returns the resident chunks at the time of the call.
func (c *Cache) All() []*chunks.Chunk {
	c.mu.RLock()
	out := make([]*chunks.Chunk, 0, len(c.chunks))
	for _, ch := range c.chunks {
		out = append(out, ch)
	}
	c.mu.RUnlock()
	return out
}

// Positions returns the resident positions, sorted.
func (c *Cache) Positions() []chunks.Pos {
	c.mu.RLock()
	out := make([]chunks.Pos, 0, len(c.chunks))
	for p := range c.chunks {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.chunks = map[chunks.Pos]*chunks.Chunk{}
	c.mu.Unlock()
}
