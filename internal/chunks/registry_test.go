package chunks

import "testing"

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry([]BlockDef{
		{ID: 1, Name: "stone"},
		{ID: 2, Name: "torch", Lifecycle: true, Luminance: 14, Translucent: true},
		{ID: 3, Name: "chest", Lifecycle: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistry_Validation(t *testing.T) {
	bad := [][]BlockDef{
		{{ID: 0, Name: "stone"}},
		{{ID: 1, Name: ""}},
		{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}},
		{{ID: 1, Name: "a"}, {ID: 2, Name: "a"}},
		{{ID: 1, Name: "a", Luminance: 16}},
	}
	for i, defs := range bad {
		if _, err := NewRegistry(defs); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	r := testRegistry(t)
	if !r.Translucent(AirID) || r.Translucent(1) || r.Translucent(999) {
		t.Fatalf("translucency wrong")
	}
	if got := r.LifecycleBlocks(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("LifecycleBlocks=%v", got)
	}
	if id, ok := r.ID("torch"); !ok || id != 2 {
		t.Fatalf("ID(torch)=%d,%v", id, ok)
	}
}

func TestMappingsOf(t *testing.T) {
	r := testRegistry(t)
	c := New(Pos{X: -1, Y: 0, Z: 2}, 0)
	c.SetBlock(0, 0, 0, 1)
	c.SetBlock(1, 2, 3, 2)
	c.SetBlock(4, 5, 6, 2)
	c.SetBlock(31, 63, 31, 3)

	m := MappingsOf(c.Snapshot(), r)
	if _, ok := m[1]; ok {
		t.Fatalf("non-lifecycle block mapped")
	}
	if len(m[2]) != 2 || len(m[3]) != 1 || m.Count() != 3 {
		t.Fatalf("mappings=%v", m)
	}
	want := Vec3i{X: -32 + 31, Y: 63, Z: 64 + 31}
	if m[3][0] != want {
		t.Fatalf("chest at %v want %v", m[3][0], want)
	}
}
