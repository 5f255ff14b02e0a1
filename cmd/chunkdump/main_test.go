package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/persistence/chunkdb"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/tuning"
)

func TestDumpChunks(t *testing.T) {
	s, err := chunkdb.OpenSQLite(filepath.Join(t.TempDir(), "chunks.sqlite"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	c := chunks.New(chunks.Pos{X: 1, Y: 0, Z: -2}, 0)
	for x := range chunks.SizeX {
		for z := range chunks.SizeZ {
			c.SetBlock(x, 0, z, 1)
		}
	}
	c.SetBlock(0, 1, 0, 8)
	if err := s.Store(c.Snapshot(), []chunks.EntityStub{{Prefab: "chest", Pos: chunks.Vec3i{X: 32, Y: 1, Z: -64}}}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	s.Sync()

	reg, err := tuning.Defaults().Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	var buf bytes.Buffer
	if err := dumpChunks(context.Background(), &buf, s, reg, true); err != nil {
		t.Fatalf("dumpChunks: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"chunks=1\n",
		"(1,0,-2) ",
		"entities=1",
		"stone      1024",
		"chest      1",
		"entity chest",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "MISMATCH") || strings.Contains(out, "corrupt") {
		t.Fatalf("unexpected integrity failure:\n%s", out)
	}
}

func TestDumpEvents(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewEventLogger(dir, 8)
	l.Emit(events.ChunkEvent(events.KindChunkGenerated, chunks.Pos{}))
	l.Emit(events.ChunkEvent(events.KindChunkLoaded, chunks.Pos{}))
	l.Emit(events.ChunkEvent(events.KindChunkLoaded, chunks.Pos{X: 1}))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var buf bytes.Buffer
	if err := dumpEvents(&buf, dir); err != nil {
		t.Fatalf("dumpEvents: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "events=3") || !strings.Contains(out, string(events.KindChunkLoaded)) {
		t.Fatalf("output:\n%s", out)
	}
}
