// Package viewers holds the movable viewers driven by the admin API.
package viewers

import (
	"sort"
	"sync"

	"voxelstream.ai/internal/chunks"
)

// Viewer is a point in the world that can be moved or destroyed.
type Viewer struct {
	id string

	mu       sync.Mutex
	x, y, z  float64
	located  bool
	gone     bool
	distance chunks.Pos
}

func New(id string) *Viewer { return &Viewer{id: id} }

// At creates a viewer already placed at world position (x,y,z).
func At(id string, x, y, z float64) *Viewer {
	v := New(id)
	v.MoveTo(x, y, z)
	return v
}

// AtChunk places a viewer at the center of chunk p.
func AtChunk(id string, p chunks.Pos) *Viewer {
	o := p.Origin()
	return At(id, float64(o.X)+chunks.SizeX/2, float64(o.Y)+chunks.SizeY/2, float64(o.Z)+chunks.SizeZ/2)
}

func (v *Viewer) ID() string { return v.id }

func (v *Viewer) Location() (x, y, z float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.x, v.y, v.z, v.located && !v.gone
}

func (v *Viewer) Exists() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.gone
}

func (v *Viewer) MoveTo(x, y, z float64) {
	v.mu.Lock()
	v.x, v.y, v.z = x, y, z
	v.located = true
	v.mu.Unlock()
}

// MoveToChunk moves the viewer to the center of chunk p.
func (v *Viewer) MoveToChunk(p chunks.Pos) {
	o := p.Origin()
	v.MoveTo(float64(o.X)+chunks.SizeX/2, float64(o.Y)+chunks.SizeY/2, float64(o.Z)+chunks.SizeZ/2)
}

// Destroy marks the viewer gone; trackers drop it on their next tick.
func (v *Viewer) Destroy() {
	v.mu.Lock()
	v.gone = true
	v.mu.Unlock()
}

func (v *Viewer) Distance() chunks.Pos {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.distance
}

func (v *Viewer) SetDistance(d chunks.Pos) {
	v.mu.Lock()
	v.distance = d
	v.mu.Unlock()
}

// Registry maps ids to viewers.
type Registry struct {
	mu      sync.RWMutex
	viewers map[string]*Viewer
}

func NewRegistry() *Registry {
	return &Registry{viewers: map[string]*Viewer{}}
}

// GetOrCreate returns the viewer for id, creating it when missing.
func (r *Registry) GetOrCreate(id string) (*Viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.viewers[id]; ok {
		return v, false
	}
	v := New(id)
	r.viewers[id] = v
	return v, true
}

func (r *Registry) Get(id string) (*Viewer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.viewers[id]
	return v, ok
}

// Remove destroys and forgets the viewer.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	v, ok := r.viewers[id]
	delete(r.viewers, id)
	r.mu.Unlock()
	if ok {
		v.Destroy()
	}
	return ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.viewers))
	for id := range r.viewers {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
