package codec

import (
	"errors"
	"testing"

	"voxelstream.ai/internal/chunks"
)

func TestChunkStore_RoundTrip(t *testing.T) {
	c := testChunk()
	stubs := []chunks.EntityStub{{Prefab: "chest", Pos: chunks.Vec3i{X: 1, Y: 2, Z: 3}}}
	st, err := NewChunkStore(c.Snapshot(), stubs)
	if err != nil {
		t.Fatalf("NewChunkStore: %v", err)
	}
	if len(st.Data) >= chunks.Volume*2 {
		t.Fatalf("compressed record is %d bytes, expected far less than raw", len(st.Data))
	}
	out, err := st.Chunk()
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if out.Digest() != st.Digest {
		t.Fatalf("digest mismatch")
	}
	if got := st.RestoreEntities(); len(got) != 1 || got[0].Prefab != "chest" {
		t.Fatalf("entities=%v", got)
	}
}

func TestChunkStore_RejectsWrongPosition(t *testing.T) {
	st, err := NewChunkStore(testChunk().Snapshot(), nil)
	if err != nil {
		t.Fatalf("NewChunkStore: %v", err)
	}
	st.Pos = chunks.Pos{X: 100}
	if _, err := st.Chunk(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
	st.Data = []byte("not zstd")
	if _, err := st.Chunk(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("garbage err=%v want ErrCorrupt", err)
	}
}

func TestEntitiesJSON(t *testing.T) {
	s, err := MarshalEntities(nil)
	if err != nil || s != "[]" {
		t.Fatalf("MarshalEntities(nil)=%q,%v", s, err)
	}
	in := []chunks.EntityStub{{Prefab: "tree", Fields: map[string]string{"kind": "oak"}}}
	s, err = MarshalEntities(in)
	if err != nil {
		t.Fatalf("MarshalEntities: %v", err)
	}
	out, err := UnmarshalEntities(s)
	if err != nil || len(out) != 1 || out[0].Fields["kind"] != "oak" {
		t.Fatalf("UnmarshalEntities=%v,%v", out, err)
	}
	if _, err := UnmarshalEntities("{"); err == nil {
		t.Fatalf("expected error")
	}
}
