package entities

import (
	"testing"

	"voxelstream.ai/internal/chunks"
)

func TestStore_ReleaseByChunk(t *testing.T) {
	s := NewStore()
	a := s.Create(chunks.EntityStub{Prefab: "chest", Pos: chunks.Vec3i{X: 1, Y: 2, Z: 3}})
	s.Create(chunks.EntityStub{Prefab: "chest", Pos: chunks.Vec3i{X: 5, Y: 2, Z: 3}})
	s.Create(chunks.EntityStub{Prefab: "sign", Pos: chunks.Vec3i{X: chunks.SizeX + 1}})

	if got := s.Count(); got != 3 {
		t.Fatalf("Count = %d", got)
	}
	if got := len(s.InChunk(chunks.Pos{})); got != 2 {
		t.Fatalf("InChunk origin = %d", got)
	}

	stubs := s.Release(chunks.Pos{})
	if len(stubs) != 2 || stubs[0].Pos != (chunks.Vec3i{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("Release = %+v", stubs)
	}
	if s.Count() != 1 {
		t.Fatalf("released entities still counted")
	}
	if s.Destroy(a) {
		t.Fatalf("destroyed an already released entity")
	}
	if got := s.Release(chunks.Pos{}); len(got) != 0 {
		t.Fatalf("second Release = %+v", got)
	}
}

func TestStore_DestroyAndClear(t *testing.T) {
	s := NewStore()
	id := s.Create(chunks.EntityStub{Prefab: "chest", Pos: chunks.Vec3i{X: -1, Y: 0, Z: -1}})
	if got := s.InChunk(chunks.Pos{X: -1, Z: -1}); len(got) != 1 || got[0].ID != id {
		t.Fatalf("negative coords mapped to wrong chunk: %+v", got)
	}
	if !s.Destroy(id) || s.Count() != 0 {
		t.Fatalf("Destroy failed")
	}
	s.Create(chunks.EntityStub{Prefab: "x"})
	s.Clear()
	if s.Count() != 0 {
		t.Fatalf("Clear left entities")
	}
}
