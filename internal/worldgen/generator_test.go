package worldgen

import (
	"testing"

	"voxelstream.ai/internal/chunks"
)

func testRegistry(t *testing.T) *chunks.Registry {
	t.Helper()
	r, err := chunks.NewRegistry([]chunks.BlockDef{
		{ID: 1, Name: "stone"},
		{ID: 2, Name: "dirt"},
		{ID: 3, Name: "grass"},
		{ID: 4, Name: "sand"},
		{ID: 5, Name: "coal_ore"},
		{ID: 6, Name: "iron_ore"},
		{ID: 7, Name: "torch", Lifecycle: true, Luminance: 14, Translucent: true},
		{ID: 8, Name: "chest", Lifecycle: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestNew_MissingPaletteEntry(t *testing.T) {
	r, _ := chunks.NewRegistry([]chunks.BlockDef{{ID: 1, Name: "stone"}})
	if _, err := New(DefaultConfig(), r); err == nil {
		t.Fatalf("expected error for missing blocks")
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	reg := testRegistry(t)
	g, err := New(DefaultConfig(), reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := chunks.Pos{X: 3, Y: 0, Z: -2}
	a, b := chunks.New(p, 0), chunks.New(p, 0)
	sa, err := g.Generate(a)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sb, _ := g.Generate(b)
	if a.Digest() != b.Digest() || len(sa) != len(sb) {
		t.Fatalf("generation is not deterministic")
	}
}

func TestGenerate_SurfaceAndAir(t *testing.T) {
	reg := testRegistry(t)
	g, _ := New(DefaultConfig(), reg)
	c := chunks.New(chunks.Pos{}, 0)
	if _, err := g.Generate(c); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, xz := range [][2]int{{0, 0}, {7, 19}, {31, 31}} {
		s := g.SurfaceAt(xz[0], xz[1])
		if s < 0 || s >= chunks.SizeY-1 {
			t.Fatalf("surface %d out of chunk range for default config", s)
		}
		top := c.Block(xz[0], s, xz[1])
		if top != 3 && top != 4 {
			t.Fatalf("surface block at %v = %d, want grass or sand", xz, top)
		}
		if c.Block(xz[0], 0, xz[1]) == chunks.AirID {
			t.Fatalf("bedrock layer is air at %v", xz)
		}
		if c.Block(xz[0], chunks.SizeY-1, xz[1]) != chunks.AirID {
			t.Fatalf("sky is not air at %v", xz)
		}
	}
}

func TestGenerate_ChestStubsMatchBlocks(t *testing.T) {
	reg := testRegistry(t)
	cfg := DefaultConfig()
	cfg.ChestPermille = 1000
	g, _ := New(cfg, reg)
	c := chunks.New(chunks.Pos{X: -1, Z: 4}, 0)
	stubs, err := g.Generate(c)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(stubs) != 1 || stubs[0].Prefab != "chest" {
		t.Fatalf("stubs=%v", stubs)
	}
	m := chunks.MappingsOf(c.Snapshot(), reg)
	found := false
	for _, p := range m[8] {
		if p == stubs[0].Pos {
			found = true
		}
	}
	if !found {
		t.Fatalf("chest stub at %v has no chest block (chests=%v)", stubs[0].Pos, m[8])
	}
}
