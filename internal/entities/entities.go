// Package entities keeps the entities spawned from chunk stubs, grouped by
// the chunk that owns them.
package entities

import (
	"sort"
	"sync"

	"voxelstream.ai/internal/chunks"
)

type Entity struct {
	ID     uint64
	Prefab string
	Pos    chunks.Vec3i
	Fields map[string]string
}

func (e Entity) Chunk() chunks.Pos { return chunks.ChunkOf(e.Pos) }

func (e Entity) Stub() chunks.EntityStub {
	return chunks.EntityStub{Prefab: e.Prefab, Pos: e.Pos, Fields: e.Fields}
}

type Store struct {
	mu      sync.Mutex
	nextID  uint64
	byChunk map[chunks.Pos]map[uint64]Entity
}

func NewStore() *Store {
	return &Store{byChunk: map[chunks.Pos]map[uint64]Entity{}}
}

func (s *Store) Create(stub chunks.EntityStub) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := Entity{ID: s.nextID, Prefab: stub.Prefab, Pos: stub.Pos, Fields: stub.Fields}
	m := s.byChunk[e.Chunk()]
	if m == nil {
		m = map[uint64]Entity{}
		s.byChunk[e.Chunk()] = m
	}
	m[e.ID] = e
	return e.ID
}

// Destroy removes one entity. It reports false for unknown ids.
func (s *Store) Destroy(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pos, m := range s.byChunk {
		if _, ok := m[id]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.byChunk, pos)
			}
			return true
		}
	}
	return false
}

// Release removes every entity inside pos and returns them as stubs,
// ordered by id, ready to be stored with the chunk.
func (s *Store) Release(pos chunks.Pos) []chunks.EntityStub {
	s.mu.Lock()
	m := s.byChunk[pos]
	delete(s.byChunk, pos)
	s.mu.Unlock()

	es := make([]Entity, 0, len(m))
	for _, e := range m {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
	out := make([]chunks.EntityStub, len(es))
	for i, e := range es {
		out[i] = e.Stub()
	}
	return out
}

func (s *Store) InChunk(pos chunks.Pos) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entity, 0, len(s.byChunk[pos]))
	for _, e := range s.byChunk[pos] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.byChunk {
		n += len(m)
	}
	return n
}

// Clear drops every entity, as after a world purge.
func (s *Store) Clear() {
	s.mu.Lock()
	clear(s.byChunk)
	s.mu.Unlock()
}
