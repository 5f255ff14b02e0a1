package chunks

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

const (
	SizeX  = 32
	SizeY  = 64
	SizeZ  = 32
	Volume = SizeX * SizeY * SizeZ

	MaxLight         = 15
	MaxSunlight      = 15
	MaxSunlightRegen = 63
)

// Index maps local block coordinates to the flat array index.
// x varies fastest, then z, then y.
func Index(x, y, z int) int {
	return x + SizeX*(z+SizeZ*y)
}

// Coords is the inverse of Index.
func Coords(i int) (x, y, z int) {
	x = i % SizeX
	z = (i / SizeX) % SizeZ
	y = i / (SizeX * SizeZ)
	return
}

func InBounds(x, y, z int) bool {
	return x >= 0 && x < SizeX && y >= 0 && y < SizeY && z >= 0 && z < SizeZ
}

type State uint8

const (
	StateGenerating State = iota
	StateAwaitingFinalization
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "GENERATING"
	case StateAwaitingFinalization:
		return "AWAITING_FINALIZATION"
	case StateReady:
		return "READY"
	case StateDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}

type blockData struct{ v []uint16 }

type extraData struct{ v []uint32 } // nil v means all zero

// Chunk is one SizeX*SizeY*SizeZ volume of block and light data.
//
// Arrays referenced by the latest Snapshot are never written in place; a
// write through the chunk copies the array first.
type Chunk struct {
	pos Pos

	mu            sync.RWMutex
	state         State
	dirty         bool
	blocks        *blockData
	extra         []*extraData
	sunlight      []byte // nil means all zero
	sunlightRegen []byte
	light         []byte
	snap          *Snapshot
	hash          [32]byte
	hashValid     bool
}

// New allocates an all-air chunk in the Generating state.
func New(pos Pos, extraChannels int) *Chunk {
	c := &Chunk{pos: pos}
	c.allocate(extraChannels)
	return c
}

// FromArrays builds a chunk around decoded arrays. The slices are adopted,
// not copied.
func FromArrays(pos Pos, blocks []uint16, extra [][]uint32) *Chunk {
	c := &Chunk{pos: pos, dirty: true}
	if len(blocks) != Volume {
		b := make([]uint16, Volume)
		copy(b, blocks)
		blocks = b
	}
	c.blocks = &blockData{v: blocks}
	c.extra = make([]*extraData, len(extra))
	for i, e := range extra {
		if e != nil && len(e) != Volume {
			full := make([]uint32, Volume)
			copy(full, e)
			e = full
		}
		c.extra[i] = &extraData{v: e}
	}
	return c
}

func (c *Chunk) allocate(extraChannels int) {
	c.blocks = &blockData{v: make([]uint16, Volume)}
	c.extra = make([]*extraData, extraChannels)
	for i := range c.extra {
		c.extra[i] = &extraData{}
	}
	c.sunlight = nil
	c.sunlightRegen = nil
	c.light = nil
	c.snap = nil
	c.dirty = true
	c.hashValid = false
}

func (c *Chunk) Pos() Pos { return c.pos }

func (c *Chunk) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Chunk) IsReady() bool { return c.State() == StateReady }

func (c *Chunk) IsDisposed() bool { return c.State() == StateDisposed }

// MarkAwaitingFinalization moves a Generating chunk forward. It reports
// false for any other starting state.
func (c *Chunk) MarkAwaitingFinalization() bool {
	return c.advance(StateGenerating, StateAwaitingFinalization)
}

// MarkReady accepts a Generating or AwaitingFinalization chunk.
func (c *Chunk) MarkReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateGenerating && c.state != StateAwaitingFinalization {
		return false
	}
	c.state = StateReady
	return true
}

func (c *Chunk) advance(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

// Dispose releases the chunk's arrays. Reads afterwards return zero.
func (c *Chunk) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisposed
	c.blocks = nil
	c.extra = nil
	c.sunlight = nil
	c.sunlightRegen = nil
	c.light = nil
	c.snap = nil
}

// Reactivate reallocates a disposed chunk so it can re-enter the pipeline.
func (c *Chunk) Reactivate(extraChannels int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisposed {
		return false
	}
	c.allocate(extraChannels)
	c.state = StateGenerating
	return true
}

func (c *Chunk) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

func (c *Chunk) SetDirty(d bool) {
	c.mu.Lock()
	c.dirty = d
	c.mu.Unlock()
}

func (c *Chunk) ExtraChannels() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.extra)
}

func (c *Chunk) Block(x, y, z int) uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.blocks == nil {
		return 0
	}
	return c.blocks.v[Index(x, y, z)]
}

// SetBlock writes a block id and returns the previous one.
func (c *Chunk) SetBlock(x, y, z int, id uint16) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocks == nil {
		return 0
	}
	i := Index(x, y, z)
	old := c.blocks.v[i]
	if old == id {
		return old
	}
	c.ownBlocks()
	c.blocks.v[i] = id
	c.dirty = true
	c.hashValid = false
	return old
}

func (c *Chunk) Extra(channel, x, y, z int) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if channel < 0 || channel >= len(c.extra) || c.extra[channel].v == nil {
		return 0
	}
	return c.extra[channel].v[Index(x, y, z)]
}

func (c *Chunk) SetExtra(channel, x, y, z int, v uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if channel < 0 || channel >= len(c.extra) {
		return 0
	}
	i := Index(x, y, z)
	e := c.extra[channel]
	var old uint32
	if e.v != nil {
		old = e.v[i]
	}
	if old == v {
		return old
	}
	c.ownExtra(channel)
	c.extra[channel].v[i] = v
	c.dirty = true
	return old
}

func (c *Chunk) Sunlight(x, y, z int) uint8 {
	return c.readLight(func() []byte { return c.sunlight }, x, y, z)
}

func (c *Chunk) SunlightRegen(x, y, z int) uint8 {
	return c.readLight(func() []byte { return c.sunlightRegen }, x, y, z)
}

func (c *Chunk) Light(x, y, z int) uint8 {
	return c.readLight(func() []byte { return c.light }, x, y, z)
}

func (c *Chunk) SetSunlight(x, y, z int, v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setLight(&c.sunlight, Index(x, y, z), min(v, MaxSunlight))
}

func (c *Chunk) SetSunlightRegen(x, y, z int, v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setLight(&c.sunlightRegen, Index(x, y, z), min(v, MaxSunlightRegen))
}

func (c *Chunk) SetLight(x, y, z int, v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	setLight(&c.light, Index(x, y, z), min(v, MaxLight))
}

func (c *Chunk) readLight(arr func() []byte, x, y, z int) uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := arr()
	if a == nil {
		return 0
	}
	return a[Index(x, y, z)]
}

func setLight(arr *[]byte, i int, v uint8) {
	if *arr == nil {
		if v == 0 {
			return
		}
		*arr = make([]byte, Volume)
	}
	(*arr)[i] = v
}

func (c *Chunk) ownBlocks() {
	if c.snap != nil && c.snap.blocks == c.blocks {
		cp := make([]uint16, len(c.blocks.v))
		copy(cp, c.blocks.v)
		c.blocks = &blockData{v: cp}
	}
}

func (c *Chunk) ownExtra(channel int) {
	e := c.extra[channel]
	shared := c.snap != nil && channel < len(c.snap.extra) && c.snap.extra[channel] == e
	switch {
	case e.v == nil:
		c.extra[channel] = &extraData{v: make([]uint32, Volume)}
	case shared:
		cp := make([]uint32, len(e.v))
		copy(cp, e.v)
		c.extra[channel] = &extraData{v: cp}
	}
}

// Snapshot captures the current block and extra arrays. Later writes to
// the chunk do not affect it.
func (c *Chunk) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Snapshot{pos: c.pos, blocks: c.blocks}
	if s.blocks == nil {
		s.blocks = &blockData{v: make([]uint16, Volume)}
	}
	s.extra = make([]*extraData, len(c.extra))
	copy(s.extra, c.extra)
	c.snap = s
	return s
}

// Deflate drops light and extra arrays that hold only zeros.
func (c *Chunk) Deflate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, arr := range []*[]byte{&c.sunlight, &c.sunlightRegen, &c.light} {
		if *arr != nil && allZero8(*arr) {
			*arr = nil
		}
	}
	for i, e := range c.extra {
		if e.v != nil && allZero32(e.v) {
			c.extra[i] = &extraData{}
		}
	}
}

// Digest hashes the block array.
func (c *Chunk) Digest() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hashValid {
		c.hash = digestBlocks(c.blocksOrNil())
		c.hashValid = true
	}
	return c.hash
}

func (c *Chunk) blocksOrNil() []uint16 {
	if c.blocks == nil {
		return nil
	}
	return c.blocks.v
}

// EstimatedMemory approximates the bytes held by the chunk's arrays.
func (c *Chunk) EstimatedMemory() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	if c.blocks != nil {
		n += len(c.blocks.v) * 2
	}
	for _, e := range c.extra {
		n += len(e.v) * 4
	}
	n += len(c.sunlight) + len(c.sunlightRegen) + len(c.light)
	return n
}

func digestBlocks(blocks []uint16) [32]byte {
	h := sha256.New()
	var tmp [2]byte
	for _, v := range blocks {
		binary.LittleEndian.PutUint16(tmp[:], v)
		h.Write(tmp[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func allZero8(a []byte) bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

func allZero32(a []uint32) bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}
