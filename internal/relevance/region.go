// Package relevance decides which chunk positions each viewer needs.
package relevance

import (
	"iter"
	"sort"
	"sync"

	"voxelstream.ai/internal/chunks"
)

// Viewer is an entity whose surroundings must stay loaded.
type Viewer interface {
	ID() string
	// Location is the viewer's world position; ok is false when it has none.
	Location() (x, y, z float64, ok bool)
	// Exists is false once the entity has been destroyed.
	Exists() bool
}

// Listener hears about chunks entering and leaving a viewer's region.
// It is called without the region lock held, but possibly with the
// tracker's read lock held, so it must not add or remove viewers.
type Listener interface {
	ChunkRelevant(viewer string, pos chunks.Pos, c *chunks.Chunk)
	ChunkIrrelevant(viewer string, pos chunks.Pos)
}

type NopListener struct{}

func (NopListener) ChunkRelevant(string, chunks.Pos, *chunks.Chunk) {}
func (NopListener) ChunkIrrelevant(string, chunks.Pos)              {}

// Region is one viewer's box of chunk positions.
type Region struct {
	viewer   Viewer
	listener Listener

	mu       sync.Mutex
	distance chunks.Pos
	center   chunks.Pos
	bounds   chunks.Bounds
	previous chunks.Bounds
	valid    bool
	dirty    bool
	relevant map[chunks.Pos]struct{}
}

type notice struct {
	pos   chunks.Pos
	chunk *chunks.Chunk // nil for irrelevant
}

// NewRegion builds a region around the viewer's current position. Without a
// position the region stays invalid, clean and empty until Update finds one.
func NewRegion(v Viewer, distance chunks.Pos, l Listener) *Region {
	if l == nil {
		l = NopListener{}
	}
	r := &Region{
		viewer:   v,
		listener: l,
		distance: distance,
		bounds:   chunks.EmptyBounds,
		previous: chunks.EmptyBounds,
		relevant: map[chunks.Pos]struct{}{},
	}
	if c, ok := r.locate(); ok {
		r.center = c
		r.bounds = chunks.Centered(c, distance)
		r.valid = true
		r.dirty = true
	}
	return r
}

func (r *Region) locate() (chunks.Pos, bool) {
	x, y, z, ok := r.viewer.Location()
	if !ok {
		return chunks.Pos{}, false
	}
	return chunks.ChunkOfWorld(x, y, z), true
}

func (r *Region) ViewerID() string { return r.viewer.ID() }

// SetDistance drops relevant positions outside the new box, then resizes.
func (r *Region) SetDistance(d chunks.Pos) {
	r.mu.Lock()
	if d == r.distance {
		r.mu.Unlock()
		return
	}
	var out []notice
	if r.valid {
		next := chunks.Centered(r.center, d)
		out = r.review(next)
		r.previous = r.bounds
		r.bounds = next
	}
	r.distance = d
	r.dirty = true
	r.mu.Unlock()
	r.notify(out)
}

// Update follows the viewer. A changed center marks the region dirty.
func (r *Region) Update() {
	c, ok := r.locate()
	if !ok {
		return
	}
	r.mu.Lock()
	if r.valid && c == r.center {
		r.mu.Unlock()
		return
	}
	next := chunks.Centered(c, r.distance)
	out := r.review(next)
	r.center = c
	r.previous = r.bounds
	r.bounds = next
	r.valid = true
	r.dirty = true
	r.mu.Unlock()
	r.notify(out)
}

// review removes relevant positions outside next. Caller holds r.mu.
func (r *Region) review(next chunks.Bounds) []notice {
	var out []notice
	for p := range r.relevant {
		if !next.Contains(p) {
			delete(r.relevant, p)
			out = append(out, notice{pos: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pos.Less(out[j].pos) })
	return out
}

func (r *Region) notify(ns []notice) {
	id := r.viewer.ID()
	for _, n := range ns {
		if n.chunk != nil {
			r.listener.ChunkRelevant(id, n.pos, n.chunk)
		} else {
			r.listener.ChunkIrrelevant(id, n.pos)
		}
	}
}

// CheckIfRelevant marks c relevant when it is inside the box and not yet
// tracked.
func (r *Region) CheckIfRelevant(c *chunks.Chunk) bool {
	if c == nil || c.IsDisposed() {
		return false
	}
	p := c.Pos()
	r.mu.Lock()
	if !r.bounds.Contains(p) {
		r.mu.Unlock()
		return false
	}
	if _, ok := r.relevant[p]; ok {
		r.mu.Unlock()
		return false
	}
	r.relevant[p] = struct{}{}
	r.mu.Unlock()
	r.notify([]notice{{pos: p, chunk: c}})
	return true
}

func (r *Region) ChunkUnloaded(p chunks.Pos) {
	r.mu.Lock()
	_, ok := r.relevant[p]
	delete(r.relevant, p)
	r.mu.Unlock()
	if ok {
		r.notify([]notice{{pos: p}})
	}
}

// NeededChunks walks the current box, skipping relevant positions. Each
// call is an independent walk; relevance is checked as the walk reaches a
// position.
func (r *Region) NeededChunks() iter.Seq[chunks.Pos] {
	return func(yield func(chunks.Pos) bool) {
		r.mu.Lock()
		b := r.bounds
		r.mu.Unlock()
		for p := range b.All() {
			r.mu.Lock()
			_, known := r.relevant[p]
			r.mu.Unlock()
			if known {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

func (r *Region) IsRelevant(p chunks.Pos) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.relevant[p]
	return ok
}

func (r *Region) Relevant() []chunks.Pos {
	r.mu.Lock()
	out := make([]chunks.Pos, 0, len(r.relevant))
	for p := range r.relevant {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *Region) Bounds() chunks.Bounds {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bounds
}

func (r *Region) PreviousBounds() chunks.Bounds {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previous
}

func (r *Region) Center() (chunks.Pos, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.center, r.valid
}

func (r *Region) Distance() chunks.Pos {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.distance
}

func (r *Region) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valid
}

func (r *Region) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

func (r *Region) ClearDirty() {
	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()
}
