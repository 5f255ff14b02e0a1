package chunks

import "testing"

func TestChunk_SnapshotIsCopyOnWrite(t *testing.T) {
	c := New(Pos{X: 1}, 1)
	c.SetBlock(1, 2, 3, 7)
	c.SetExtra(0, 4, 5, 6, 99)

	snap := c.Snapshot()
	c.SetBlock(1, 2, 3, 8)
	c.SetBlock(0, 0, 0, 9)
	c.SetExtra(0, 4, 5, 6, 100)

	if got := snap.Blocks()[Index(1, 2, 3)]; got != 7 {
		t.Fatalf("snapshot block=%d want 7", got)
	}
	if got := snap.Blocks()[Index(0, 0, 0)]; got != 0 {
		t.Fatalf("snapshot block(0,0,0)=%d want 0", got)
	}
	if got := snap.Extra(0)[Index(4, 5, 6)]; got != 99 {
		t.Fatalf("snapshot extra=%d want 99", got)
	}
	if got := c.Block(1, 2, 3); got != 8 {
		t.Fatalf("live block=%d want 8", got)
	}
	if got := c.Extra(0, 4, 5, 6); got != 100 {
		t.Fatalf("live extra=%d want 100", got)
	}
}

func TestChunk_SnapshotOfZeroExtraStaysZero(t *testing.T) {
	c := New(Pos{}, 2)
	snap := c.Snapshot()
	c.SetExtra(1, 0, 0, 0, 5)
	if snap.Extra(1) != nil {
		t.Fatalf("expected zero channel in snapshot")
	}
	if got := c.Extra(1, 0, 0, 0); got != 5 {
		t.Fatalf("live extra=%d want 5", got)
	}
}

func TestChunk_SecondSnapshotAfterWrite(t *testing.T) {
	c := New(Pos{}, 0)
	s1 := c.Snapshot()
	c.SetBlock(0, 0, 0, 1)
	s2 := c.Snapshot()
	c.SetBlock(0, 0, 0, 2)
	if s1.Blocks()[0] != 0 || s2.Blocks()[0] != 1 || c.Block(0, 0, 0) != 2 {
		t.Fatalf("s1=%d s2=%d live=%d", s1.Blocks()[0], s2.Blocks()[0], c.Block(0, 0, 0))
	}
}

func TestChunk_Lifecycle(t *testing.T) {
	c := New(Pos{}, 0)
	if c.State() != StateGenerating {
		t.Fatalf("state=%s", c.State())
	}
	if !c.MarkAwaitingFinalization() {
		t.Fatalf("MarkAwaitingFinalization failed")
	}
	if c.MarkAwaitingFinalization() {
		t.Fatalf("second MarkAwaitingFinalization should fail")
	}
	if !c.MarkReady() || !c.IsReady() {
		t.Fatalf("MarkReady failed")
	}
	if c.MarkReady() {
		t.Fatalf("ready chunk accepted MarkReady again")
	}
	c.Dispose()
	if !c.IsDisposed() {
		t.Fatalf("state=%s want disposed", c.State())
	}
	if c.Block(0, 0, 0) != 0 || c.SetBlock(0, 0, 0, 3) != 0 {
		t.Fatalf("disposed chunk should read and write as empty")
	}
	if c.MarkReady() {
		t.Fatalf("disposed chunk accepted MarkReady")
	}
	if !c.Reactivate(1) || c.State() != StateGenerating || c.ExtraChannels() != 1 {
		t.Fatalf("reactivate failed: state=%s", c.State())
	}
	c.SetBlock(0, 0, 0, 4)
	if c.Block(0, 0, 0) != 4 {
		t.Fatalf("reactivated chunk not writable")
	}
}

func TestChunk_DirtyDefaultsTrue(t *testing.T) {
	c := New(Pos{}, 0)
	if !c.Dirty() {
		t.Fatalf("new chunk should be dirty")
	}
	c.SetDirty(false)
	c.SetBlock(0, 0, 0, 0)
	if c.Dirty() {
		t.Fatalf("no-op write should not mark dirty")
	}
	c.SetBlock(0, 0, 0, 1)
	if !c.Dirty() {
		t.Fatalf("write should mark dirty")
	}
}

func TestChunk_LightClampAndDeflate(t *testing.T) {
	c := New(Pos{}, 1)
	c.SetLight(1, 1, 1, 200)
	c.SetSunlightRegen(1, 1, 1, 200)
	if c.Light(1, 1, 1) != MaxLight || c.SunlightRegen(1, 1, 1) != MaxSunlightRegen {
		t.Fatalf("light not clamped: %d %d", c.Light(1, 1, 1), c.SunlightRegen(1, 1, 1))
	}
	before := c.EstimatedMemory()
	c.SetLight(1, 1, 1, 0)
	c.SetExtra(0, 0, 0, 0, 1)
	c.SetExtra(0, 0, 0, 0, 0)
	c.Deflate()
	after := c.EstimatedMemory()
	if after >= before {
		t.Fatalf("deflate did not shrink: before=%d after=%d", before, after)
	}
	if c.SunlightRegen(1, 1, 1) != MaxSunlightRegen {
		t.Fatalf("deflate dropped non-zero array")
	}
}

func TestChunk_DigestTracksWrites(t *testing.T) {
	c := New(Pos{}, 0)
	d1 := c.Digest()
	c.SetBlock(3, 3, 3, 1)
	d2 := c.Digest()
	if d1 == d2 {
		t.Fatalf("digest unchanged after write")
	}
	if c.Snapshot().Digest() != d2 {
		t.Fatalf("snapshot digest mismatch")
	}
}

func TestIndexCoordsRoundTrip(t *testing.T) {
	for _, p := range [][3]int{{0, 0, 0}, {31, 63, 31}, {5, 17, 9}} {
		x, y, z := Coords(Index(p[0], p[1], p[2]))
		if x != p[0] || y != p[1] || z != p[2] {
			t.Fatalf("Coords(Index(%v))=(%d,%d,%d)", p, x, y, z)
		}
	}
	if Index(1, 0, 0) != 1 || Index(0, 0, 1) != SizeX || Index(0, 1, 0) != SizeX*SizeZ {
		t.Fatalf("scan order must be x fastest, then z, then y")
	}
}

func TestEditor_ViewIsReadOnly(t *testing.T) {
	c := New(Pos{}, 0)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic writing through View")
		}
	}()
	c.View(func(e *Editor) { e.SetLight(0, 1) })
}
