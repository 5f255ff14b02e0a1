package events

import (
	"testing"

	"voxelstream.ai/internal/chunks"
)

func TestFanoutAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := Fanout{a, nil, b}
	f.Emit(ChunkEvent(KindChunkLoaded, chunks.Pos{X: 1}))
	f.Emit(Event{Kind: KindWorldPurged})
	if a.Count(KindChunkLoaded) != 1 || b.Count(KindWorldPurged) != 1 {
		t.Fatalf("fanout lost events: a=%v b=%v", a.Events(), b.Events())
	}
	if got := a.Of(KindChunkLoaded); len(got) != 1 || *got[0].Pos != (chunks.Pos{X: 1}) {
		t.Fatalf("Of=%v", got)
	}
	a.Reset()
	if len(a.Events()) != 0 {
		t.Fatalf("Reset kept events")
	}
}

func TestBlockEvents_SortedByID(t *testing.T) {
	m := chunks.BlockMappings{
		9: {{X: 1}},
		2: {{X: 2}, {X: 3}},
	}
	evs := BlockEvents(KindBlocksActivated, chunks.Pos{Y: 1}, m)
	if len(evs) != 2 || evs[0].Block != 2 || evs[1].Block != 9 || len(evs[0].Positions) != 2 {
		t.Fatalf("events=%v", evs)
	}
}
