package chunks

import (
	"fmt"
	"iter"
)

// Pos identifies a chunk in chunk-grid space.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Vec3i is a world block coordinate.
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) Add(o Pos) Pos { return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z} }
func (p Pos) Sub(o Pos) Pos { return Pos{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Chebyshev returns the grid distance max(|dx|,|dy|,|dz|).
func (p Pos) Chebyshev(o Pos) int {
	return max(abs(p.X-o.X), abs(p.Y-o.Y), abs(p.Z-o.Z))
}

// Less orders positions by x, then y, then z.
func (p Pos) Less(o Pos) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

// Origin is the world coordinate of the chunk's (0,0,0) block.
func (p Pos) Origin() Vec3i {
	return Vec3i{X: p.X * SizeX, Y: p.Y * SizeY, Z: p.Z * SizeZ}
}

// ChunkOf returns the chunk containing a world block coordinate.
func ChunkOf(v Vec3i) Pos {
	return Pos{X: FloorDiv(v.X, SizeX), Y: FloorDiv(v.Y, SizeY), Z: FloorDiv(v.Z, SizeZ)}
}

// ChunkOfWorld returns the chunk containing a fractional world position.
func ChunkOfWorld(x, y, z float64) Pos {
	return ChunkOf(Vec3i{X: floorInt(x), Y: floorInt(y), Z: floorInt(z)})
}

func FloorDiv(a, b int) int {
	q := a / b
	r := a % b
	if r != 0 && ((r < 0) != (b < 0)) {
		q--
	}
	return q
}

func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func floorInt(f float64) int {
	i := int(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return i
}

// Bounds is an inclusive axis-aligned box of chunk positions.
type Bounds struct {
	Min Pos `json:"min"`
	Max Pos `json:"max"`
}

// EmptyBounds contains no positions.
var EmptyBounds = Bounds{Min: Pos{}, Max: Pos{X: -1, Y: -1, Z: -1}}

// Centered builds center ± distance/2 on every axis (floor division).
func Centered(center, distance Pos) Bounds {
	ext := Pos{X: FloorDiv(distance.X, 2), Y: FloorDiv(distance.Y, 2), Z: FloorDiv(distance.Z, 2)}
	return Bounds{Min: center.Sub(ext), Max: center.Add(ext)}
}

func (b Bounds) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b Bounds) Contains(p Pos) bool {
	if b.IsEmpty() {
		return false
	}
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Expand grows the box by n chunks on every axis. Empty stays empty.
func (b Bounds) Expand(n int) Bounds {
	if b.IsEmpty() {
		return b
	}
	d := Pos{X: n, Y: n, Z: n}
	return Bounds{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

func (b Bounds) Volume() int {
	if b.IsEmpty() {
		return 0
	}
	return (b.Max.X - b.Min.X + 1) * (b.Max.Y - b.Min.Y + 1) * (b.Max.Z - b.Min.Z + 1)
}

// All walks the box in x, y, z order. Every call starts a fresh walk.
func (b Bounds) All() iter.Seq[Pos] {
	return func(yield func(Pos) bool) {
		if b.IsEmpty() {
			return
		}
		for x := b.Min.X; x <= b.Max.X; x++ {
			for y := b.Min.Y; y <= b.Max.Y; y++ {
				for z := b.Min.Z; z <= b.Max.Z; z++ {
					if !yield(Pos{X: x, Y: y, Z: z}) {
						return
					}
				}
			}
		}
	}
}

func (b Bounds) String() string {
	if b.IsEmpty() {
		return "[]"
	}
	return fmt.Sprintf("[%s..%s]", b.Min, b.Max)
}
