package memstore

import (
	"context"
	"testing"

	"voxelstream.ai/internal/chunks"
)

func TestStore_LoadStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := chunks.Pos{X: 2, Y: -1}
	if _, ok, err := s.Load(ctx, p); ok || err != nil {
		t.Fatalf("Load on empty store = %v, %v", ok, err)
	}
	c := chunks.New(p, 0)
	c.SetBlock(1, 1, 1, 5)
	if err := s.Store(c.Snapshot(), []chunks.EntityStub{{Prefab: "chest"}}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	st, ok, err := s.Load(ctx, p)
	if !ok || err != nil {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	got, err := st.Chunk()
	if err != nil || got.Block(1, 1, 1) != 5 {
		t.Fatalf("decoded chunk wrong: %v", err)
	}
	if len(st.RestoreEntities()) != 1 {
		t.Fatalf("entities lost")
	}
	if err := s.DeleteWorld(ctx); err != nil {
		t.Fatalf("DeleteWorld: %v", err)
	}
	if len(s.Positions()) != 0 || s.StoreCount() != 1 {
		t.Fatalf("positions=%v stores=%d", s.Positions(), s.StoreCount())
	}
}
