package chunks

// Snapshot is an immutable view of a chunk's block and extra arrays.
// The returned slices must not be modified.
type Snapshot struct {
	pos    Pos
	blocks *blockData
	extra  []*extraData
}

func (s *Snapshot) Pos() Pos { return s.pos }

func (s *Snapshot) Blocks() []uint16 { return s.blocks.v }

func (s *Snapshot) ExtraChannels() int { return len(s.extra) }

// Extra returns channel i, or nil when the channel holds only zeros.
func (s *Snapshot) Extra(i int) []uint32 { return s.extra[i].v }

func (s *Snapshot) Digest() [32]byte { return digestBlocks(s.blocks.v) }
