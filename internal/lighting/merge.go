package lighting

import "voxelstream.ai/internal/chunks"

// Merger propagates light across the faces shared by neighboring chunks.
type Merger struct {
	Registry *chunks.Registry
}

// RequiredChunks lists pos and its six axis neighbors.
func (m Merger) RequiredChunks(pos chunks.Pos) []chunks.Pos {
	out := make([]chunks.Pos, 0, 7)
	out = append(out, pos)
	for _, d := range neighbors {
		out = append(out, pos.Add(chunks.Pos{X: d[0], Y: d[1], Z: d[2]}))
	}
	return out
}

// Merge pulls light into every member of group from each neighbor that is
// either another member or available through lookup. Missing neighbors are
// skipped. Chunks returned by lookup are only read.
func (m Merger) Merge(group []*chunks.Chunk, lookup func(chunks.Pos) (*chunks.Chunk, bool)) {
	members := make(map[chunks.Pos]*chunks.Chunk, len(group))
	for _, c := range group {
		members[c.Pos()] = c
	}
	for _, c := range group {
		for _, d := range neighbors {
			dir := chunks.Pos{X: d[0], Y: d[1], Z: d[2]}
			np := c.Pos().Add(dir)
			n, ok := members[np]
			if !ok && lookup != nil {
				n, ok = lookup(np)
			}
			if !ok || n == nil || n.IsDisposed() {
				continue
			}
			m.mergeFace(c, n, dir)
		}
	}
}

// mergeFace copies n's face levels first so no two chunk locks are held
// together.
func (m Merger) mergeFace(c, n *chunks.Chunk, dir chunks.Pos) {
	type cell struct {
		self       int
		sun, light uint8
	}
	var cells []cell
	n.View(func(e *chunks.Editor) {
		forFace(dir, func(self, other int) {
			s, l := e.Sunlight(other), e.Light(other)
			if s > 1 || l > 1 {
				cells = append(cells, cell{self: self, sun: s, light: l})
			}
		})
	})
	if len(cells) == 0 {
		return
	}
	c.Edit(func(e *chunks.Editor) {
		if e.Disposed() {
			return
		}
		var sunQ, lampQ []int
		for _, cl := range cells {
			if !m.Registry.Translucent(e.Block(cl.self)) {
				continue
			}
			if cl.sun > 1 && e.Sunlight(cl.self) < cl.sun-1 {
				e.SetSunlight(cl.self, cl.sun-1)
				sunQ = append(sunQ, cl.self)
			}
			if cl.light > 1 && e.Light(cl.self) < cl.light-1 {
				e.SetLight(cl.self, cl.light-1)
				lampQ = append(lampQ, cl.self)
			}
		}
		spread(e, m.Registry, sunQ, e.Sunlight, e.SetSunlight)
		spread(e, m.Registry, lampQ, e.Light, e.SetLight)
	})
}

// forFace visits the cells of the face of a chunk pointing along dir,
// passing the index in that chunk and the touching index in the neighbor.
func forFace(dir chunks.Pos, fn func(self, other int)) {
	sizes := [3]int{chunks.SizeX, chunks.SizeY, chunks.SizeZ}
	d := [3]int{dir.X, dir.Y, dir.Z}
	axis := 0
	for a := range 3 {
		if d[a] != 0 {
			axis = a
		}
	}
	u, v := (axis+1)%3, (axis+2)%3
	for a := range sizes[u] {
		for b := range sizes[v] {
			var s, o [3]int
			s[u], o[u] = a, a
			s[v], o[v] = b, b
			if d[axis] > 0 {
				s[axis], o[axis] = sizes[axis]-1, 0
			} else {
				s[axis], o[axis] = 0, sizes[axis]-1
			}
			fn(chunks.Index(s[0], s[1], s[2]), chunks.Index(o[0], o[1], o[2]))
		}
	}
}
