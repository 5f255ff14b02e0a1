package relevance

import (
	"iter"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"

	"voxelstream.ai/internal/chunks"
)

// Leeway is how far outside every region a chunk may sit before it becomes
// a candidate for eviction.
const Leeway = 1

// ChunkSource answers which chunks are resident.
type ChunkSource interface {
	Get(pos chunks.Pos) (*chunks.Chunk, bool)
}

// Tracker owns one Region per viewer. Scans (Tick, NeededChunks,
// PriorityOf, IsInAnyRegion) share a read lock; adding and removing
// viewers takes the write lock.
type Tracker struct {
	source ChunkSource

	mu      deadlock.RWMutex
	regions map[string]*Region

	changed  atomic.Bool
	onChange atomic.Pointer[func()]
}

func NewTracker(source ChunkSource) *Tracker {
	return &Tracker{source: source, regions: map[string]*Region{}}
}

// OnChange registers fn to run whenever the backlog may have changed.
func (t *Tracker) OnChange(fn func()) {
	t.onChange.Store(&fn)
}

func (t *Tracker) markChanged() {
	t.changed.Store(true)
	if fn := t.onChange.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

// TakeChanged reports whether anything changed since the last call and
// resets the flag.
func (t *Tracker) TakeChanged() bool {
	return t.changed.Swap(false)
}

// AddViewer registers v or, if it is already tracked, updates its distance.
// It returns the region's current bounds without waiting for any chunk.
// ok is false when the viewer no longer exists.
func (t *Tracker) AddViewer(v Viewer, distance chunks.Pos, l Listener) (chunks.Bounds, bool) {
	if v == nil || !v.Exists() {
		return chunks.EmptyBounds, false
	}
	t.mu.RLock()
	r, ok := t.regions[v.ID()]
	t.mu.RUnlock()
	if ok {
		r.SetDistance(distance)
		t.markChanged()
		return r.Bounds(), true
	}

	r = NewRegion(v, distance, l)
	for p := range r.Bounds().All() {
		if c, ok := t.source.Get(p); ok {
			r.CheckIfRelevant(c)
		}
	}
	t.mu.Lock()
	if existing, ok := t.regions[v.ID()]; ok {
		t.mu.Unlock()
		existing.SetDistance(distance)
		t.markChanged()
		return existing.Bounds(), true
	}
	t.regions[v.ID()] = r
	t.mu.Unlock()
	t.markChanged()
	return r.Bounds(), true
}

func (t *Tracker) RemoveViewer(id string) bool {
	t.mu.Lock()
	_, ok := t.regions[id]
	delete(t.regions, id)
	t.mu.Unlock()
	if ok {
		t.markChanged()
	}
	return ok
}

// UpdateDistance is a no-op returning false for unknown viewers.
func (t *Tracker) UpdateDistance(id string, distance chunks.Pos) bool {
	t.mu.RLock()
	r, ok := t.regions[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	r.SetDistance(distance)
	t.markChanged()
	return true
}

func (t *Tracker) Region(id string) (*Region, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.regions[id]
	return r, ok
}

// Regions returns the tracked regions ordered by viewer id.
func (t *Tracker) Regions() []*Region {
	t.mu.RLock()
	out := make([]*Region, 0, len(t.regions))
	for _, r := range t.regions {
		out = append(out, r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ViewerID() < out[j].ViewerID() })
	return out
}

func (t *Tracker) ViewerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regions)
}

// IsInAnyRegion is true when pos lies within Leeway chunks of some region.
func (t *Tracker) IsInAnyRegion(pos chunks.Pos) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.regions {
		if r.Bounds().Expand(Leeway).Contains(pos) {
			return true
		}
	}
	return false
}

// IsStrictlyRelevant ignores the leeway.
func (t *Tracker) IsStrictlyRelevant(pos chunks.Pos) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.regions {
		if r.Bounds().Contains(pos) {
			return true
		}
	}
	return false
}

// NeededChunks chains every region's backlog. Positions covered by more
// than one region repeat.
func (t *Tracker) NeededChunks() iter.Seq[chunks.Pos] {
	return func(yield func(chunks.Pos) bool) {
		for _, r := range t.Regions() {
			for p := range r.NeededChunks() {
				if !yield(p) {
					return
				}
			}
		}
	}
}

// PriorityOf is the Chebyshev distance from pos to the nearest region
// center. Lower is more urgent. With no valid region it is math.MaxInt.
func (t *Tracker) PriorityOf(pos chunks.Pos) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := math.MaxInt
	for _, r := range t.regions {
		c, ok := r.Center()
		if !ok {
			continue
		}
		best = min(best, pos.Chebyshev(c))
	}
	return best
}

// NewChunk lets every region claim a chunk that just became resident.
func (t *Tracker) NewChunk(c *chunks.Chunk) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.regions {
		r.CheckIfRelevant(c)
	}
}

// ChunkUnloaded tells every region pos has left the cache. If a region
// still covers pos the backlog changed.
func (t *Tracker) ChunkUnloaded(pos chunks.Pos) {
	needed := false
	t.mu.RLock()
	for _, r := range t.regions {
		r.ChunkUnloaded(pos)
		if r.Bounds().Contains(pos) {
			needed = true
		}
	}
	t.mu.RUnlock()
	if needed {
		t.markChanged()
	}
}

// Tick follows every viewer. Dirty regions pick up chunks that are already
// resident, and viewers that no longer exist are dropped.
func (t *Tracker) Tick(time.Duration) {
	changed := false
	var dead []string

	t.mu.RLock()
	for id, r := range t.regions {
		if !r.viewer.Exists() {
			dead = append(dead, id)
			continue
		}
		r.Update()
		if !r.Dirty() {
			continue
		}
		for p := range r.NeededChunks() {
			if c, ok := t.source.Get(p); ok {
				r.CheckIfRelevant(c)
			}
		}
		r.ClearDirty()
		changed = true
	}
	t.mu.RUnlock()

	if len(dead) > 0 {
		t.mu.Lock()
		for _, id := range dead {
			delete(t.regions, id)
		}
		t.mu.Unlock()
		changed = true
	}
	if changed {
		t.markChanged()
	}
}
