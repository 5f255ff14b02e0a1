package chunks

import "testing"

func TestCentered_FloorDivisionRule(t *testing.T) {
	cases := []struct {
		dist Pos
		vol  int
	}{
		{Pos{X: 1, Y: 1, Z: 1}, 1},
		{Pos{X: 2, Y: 2, Z: 2}, 27},
		{Pos{X: 3, Y: 3, Z: 3}, 27},
		{Pos{X: 4, Y: 0, Z: 4}, 25},
	}
	for _, tc := range cases {
		b := Centered(Pos{}, tc.dist)
		if b.Volume() != tc.vol {
			t.Fatalf("Centered(%v) volume=%d want %d", tc.dist, b.Volume(), tc.vol)
		}
	}
}

func TestBounds_AllIsRestartable(t *testing.T) {
	b := Centered(Pos{X: 5}, Pos{X: 2, Y: 2, Z: 2})
	n1, n2 := 0, 0
	for p := range b.All() {
		if !b.Contains(p) {
			t.Fatalf("%v outside %v", p, b)
		}
		n1++
	}
	for range b.All() {
		n2++
	}
	if n1 != 27 || n2 != 27 {
		t.Fatalf("walks=%d,%d want 27", n1, n2)
	}
}

func TestBounds_EmptyAndExpand(t *testing.T) {
	if EmptyBounds.Contains(Pos{}) || EmptyBounds.Volume() != 0 {
		t.Fatalf("empty bounds contains positions")
	}
	if !EmptyBounds.Expand(1).IsEmpty() {
		t.Fatalf("expanding empty bounds should stay empty")
	}
	b := Centered(Pos{}, Pos{}).Expand(1)
	if !b.Contains(Pos{X: 1, Y: -1, Z: 1}) || b.Contains(Pos{X: 2}) {
		t.Fatalf("expand(1) wrong: %v", b)
	}
}

func TestChunkOf_NegativeCoords(t *testing.T) {
	if got := ChunkOf(Vec3i{X: -1, Y: -1, Z: -33}); got != (Pos{X: -1, Y: -1, Z: -2}) {
		t.Fatalf("ChunkOf=%v", got)
	}
	if got := ChunkOfWorld(31.9, 64.0, -0.5); got != (Pos{X: 0, Y: 1, Z: -1}) {
		t.Fatalf("ChunkOfWorld=%v", got)
	}
	if Mod(-1, 32) != 31 || FloorDiv(-32, 32) != -1 || FloorDiv(-33, 32) != -2 {
		t.Fatalf("floor helpers wrong")
	}
}

func TestPos_ChebyshevAndLess(t *testing.T) {
	if (Pos{X: 3, Y: -5, Z: 1}).Chebyshev(Pos{}) != 5 {
		t.Fatalf("chebyshev wrong")
	}
	if !(Pos{X: 0, Y: 9}).Less(Pos{X: 1}) || (Pos{X: 1}).Less(Pos{X: 1}) {
		t.Fatalf("Less wrong")
	}
}
