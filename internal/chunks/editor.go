package chunks

// Editor gives index-based access to a chunk's arrays while the chunk lock
// is held. It must not escape the callback it was passed to.
type Editor struct {
	c        *Chunk
	writable bool
}

// Edit runs fn with the chunk write-locked.
func (c *Chunk) Edit(fn func(e *Editor)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&Editor{c: c, writable: true})
}

// View runs fn with the chunk read-locked. Setters panic inside View.
func (c *Chunk) View(fn func(e *Editor)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(&Editor{c: c})
}

func (e *Editor) Pos() Pos { return e.c.pos }

func (e *Editor) Disposed() bool { return e.c.blocks == nil }

func (e *Editor) Block(i int) uint16 {
	if e.c.blocks == nil {
		return 0
	}
	return e.c.blocks.v[i]
}

func (e *Editor) SetBlock(i int, id uint16) {
	e.mustWrite()
	if e.c.blocks == nil || e.c.blocks.v[i] == id {
		return
	}
	e.c.ownBlocks()
	e.c.blocks.v[i] = id
	e.c.dirty = true
	e.c.hashValid = false
}

func (e *Editor) Sunlight(i int) uint8      { return at(e.c.sunlight, i) }
func (e *Editor) SunlightRegen(i int) uint8 { return at(e.c.sunlightRegen, i) }
func (e *Editor) Light(i int) uint8         { return at(e.c.light, i) }

func (e *Editor) SetSunlight(i int, v uint8) {
	e.mustWrite()
	setLight(&e.c.sunlight, i, min(v, MaxSunlight))
}

func (e *Editor) SetSunlightRegen(i int, v uint8) {
	e.mustWrite()
	setLight(&e.c.sunlightRegen, i, min(v, MaxSunlightRegen))
}

func (e *Editor) SetLight(i int, v uint8) {
	e.mustWrite()
	setLight(&e.c.light, i, min(v, MaxLight))
}

func (e *Editor) mustWrite() {
	if !e.writable {
		panic("chunks: write through read-only view")
	}
}

func at(a []byte, i int) uint8 {
	if a == nil {
		return 0
	}
	return a[i]
}
