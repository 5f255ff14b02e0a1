// Package memstore keeps encoded chunks in memory.
package memstore

import (
	"context"
	"sort"
	"sync"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/persistence/codec"
)

type Store struct {
	mu     sync.RWMutex
	chunks map[chunks.Pos]*codec.ChunkStore
	stores int
}

func New() *Store {
	return &Store{chunks: map[chunks.Pos]*codec.ChunkStore{}}
}

func (s *Store) Load(_ context.Context, pos chunks.Pos) (*codec.ChunkStore, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.chunks[pos]
	return st, ok, nil
}

func (s *Store) Store(snap *chunks.Snapshot, entities []chunks.EntityStub) error {
	st, err := codec.NewChunkStore(snap, entities)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.chunks[st.Pos] = st
	s.stores++
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteWorld(context.Context) error {
	s.mu.Lock()
	s.chunks = map[chunks.Pos]*codec.ChunkStore{}
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }

// Positions lists stored positions, sorted.
func (s *Store) Positions() []chunks.Pos {
	s.mu.RLock()
	out := make([]chunks.Pos, 0, len(s.chunks))
	for p := range s.chunks {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// StoreCount is the number of Store calls that succeeded.
func (s *Store) StoreCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores
}
