// Package lighting computes per-chunk light and merges it across chunk
// faces.
package lighting

import "voxelstream.ai/internal/chunks"

var neighbors = [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}

// Internal fills sunlight, sunlight regen and block light using only the
// chunk's own blocks. The top layer is treated as open sky.
func Internal(c *chunks.Chunk, reg *chunks.Registry) {
	c.Edit(func(e *chunks.Editor) {
		if e.Disposed() {
			return
		}
		var sun, lamp []int
		for x := range chunks.SizeX {
			for z := range chunks.SizeZ {
				exposed := true
				for y := chunks.SizeY - 1; y >= 0; y-- {
					i := chunks.Index(x, y, z)
					id := e.Block(i)
					if lum := reg.Luminance(id); lum > 0 {
						e.SetLight(i, lum)
						lamp = append(lamp, i)
					}
					if !reg.Translucent(id) {
						exposed = false
						continue
					}
					if exposed {
						e.SetSunlight(i, chunks.MaxSunlight)
						e.SetSunlightRegen(i, chunks.MaxSunlightRegen)
						sun = append(sun, i)
					}
				}
			}
		}
		spread(e, reg, sun, e.Sunlight, e.SetSunlight)
		spread(e, reg, lamp, e.Light, e.SetLight)
	})
}

// spread runs a breadth-first flood from queue, losing one level per step
// and stopping at opaque blocks and the chunk edge.
func spread(e *chunks.Editor, reg *chunks.Registry, queue []int, get func(int) uint8, set func(int, uint8)) {
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		level := get(i)
		if level <= 1 {
			continue
		}
		x, y, z := chunks.Coords(i)
		for _, d := range neighbors {
			nx, ny, nz := x+d[0], y+d[1], z+d[2]
			if !chunks.InBounds(nx, ny, nz) {
				continue
			}
			ni := chunks.Index(nx, ny, nz)
			if !reg.Translucent(e.Block(ni)) || get(ni) >= level-1 {
				continue
			}
			set(ni, level-1)
			queue = append(queue, ni)
		}
	}
}
