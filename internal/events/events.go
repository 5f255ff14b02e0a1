// Package events carries chunk lifecycle notifications to whoever listens.
package events

import (
	"maps"
	"slices"
	"sync"
	"time"

	"voxelstream.ai/internal/chunks"
)

type Kind string

const (
	KindChunkGenerated    Kind = "CHUNK_GENERATED"
	KindChunkLoaded       Kind = "CHUNK_LOADED"
	KindBeforeChunkUnload Kind = "BEFORE_CHUNK_UNLOAD"
	KindBlocksActivated   Kind = "BLOCKS_ACTIVATED"
	KindBlocksAdded       Kind = "BLOCKS_ADDED"
	KindBlocksDeactivated Kind = "BLOCKS_DEACTIVATED"
	KindWorldPurged       Kind = "WORLD_PURGED"
)

type Event struct {
	Kind      Kind           `json:"kind"`
	Tick      uint64         `json:"tick"`
	Time      time.Time      `json:"time"`
	Pos       *chunks.Pos    `json:"pos,omitempty"`
	Block     uint16         `json:"block,omitempty"`
	Positions []chunks.Vec3i `json:"positions,omitempty"`
}

// Bus accepts events. Emit must not block for long; it is called from the
// provider's tick.
type Bus interface {
	Emit(e Event)
}

type Nop struct{}

func (Nop) Emit(Event) {}

// Fanout forwards each event to every bus in order.
type Fanout []Bus

func (f Fanout) Emit(e Event) {
	for _, b := range f {
		if b != nil {
			b.Emit(e)
		}
	}
}

// Recorder keeps every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Of returns the events of kind k in emission order.
func (r *Recorder) Of(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func ChunkEvent(k Kind, pos chunks.Pos) Event {
	return Event{Kind: k, Pos: &pos}
}

// BlockEvents turns a mapping into one event per block id, ordered by id.
func BlockEvents(k Kind, pos chunks.Pos, m chunks.BlockMappings) []Event {
	ids := slices.Sorted(maps.Keys(m))
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		p := pos
		out = append(out, Event{Kind: k, Pos: &p, Block: id, Positions: m[id]})
	}
	return out
}
