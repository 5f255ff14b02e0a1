package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/entities"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/persistence/memstore"
	"voxelstream.ai/internal/relevance"
	"voxelstream.ai/internal/viewers"
)

const (
	stoneID uint16 = 1
	chestID uint16 = 2
)

// flatGen lays a stone floor and one chest per chunk.
type flatGen struct{}

func (flatGen) Generate(c *chunks.Chunk) ([]chunks.EntityStub, error) {
	c.Edit(func(e *chunks.Editor) {
		for z := range chunks.SizeZ {
			for x := range chunks.SizeX {
				e.SetBlock(chunks.Index(x, 0, z), stoneID)
			}
		}
		e.SetBlock(chunks.Index(0, 1, 0), chestID)
	})
	o := c.Pos().Origin()
	return []chunks.EntityStub{{Prefab: "chest", Pos: chunks.Vec3i{X: o.X, Y: o.Y + 1, Z: o.Z}}}, nil
}

type harness struct {
	p     *Provider
	bus   *events.Recorder
	store *memstore.Store
	ents  *entities.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := chunks.NewRegistry([]chunks.BlockDef{
		{ID: stoneID, Name: "stone"},
		{ID: chestID, Name: "chest", Lifecycle: true},
	})
	require.NoError(t, err)
	h := &harness{bus: &events.Recorder{}, store: memstore.New(), ents: entities.NewStore()}
	h.p, err = New(Config{
		Registry:  reg,
		Generator: flatGen{},
		Storage:   h.store,
		Entities:  h.ents,
		Events:    h.bus,
		Workers:   4,
	})
	require.NoError(t, err)
	require.NoError(t, h.p.Start())
	t.Cleanup(func() { _ = h.p.Dispose() })
	return h
}

func (h *harness) step() {
	h.p.Relevance().Tick(0)
	h.p.Update()
}

func (h *harness) pumpUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.step()
		return cond()
	}, 10*time.Second, 2*time.Millisecond)
}

func (h *harness) resident(n int) func() bool {
	return func() bool { return h.p.Stats().Resident == n }
}

func countNeeded(tr *relevance.Tracker) int {
	n := 0
	for range tr.NeededChunks() {
		n++
	}
	return n
}

func TestProvider_LoadsViewerRegion(t *testing.T) {
	h := newHarness(t)
	v := viewers.AtChunk("v1", chunks.Pos{})
	b, ok := h.p.AddViewer(v, chunks.Pos{X: 2, Y: 2, Z: 2}, relevance.NopListener{})
	require.True(t, ok)
	require.Equal(t, 27, b.Volume())

	h.pumpUntil(t, h.resident(27))

	require.Zero(t, countNeeded(h.p.Relevance()))
	for pos := range b.All() {
		require.True(t, h.p.Relevance().IsInAnyRegion(pos), "pos %s", pos)
		require.True(t, h.p.IsChunkReady(pos), "pos %s", pos)
	}
	require.Equal(t, 27, h.bus.Count(events.KindChunkGenerated))
	require.Equal(t, 27, h.bus.Count(events.KindChunkLoaded))
	require.Equal(t, 27, h.bus.Count(events.KindBlocksActivated))
	require.Equal(t, 27, h.ents.Count())

	st := h.p.Stats()
	require.Equal(t, uint64(27), st.Generated)
	require.Equal(t, 1, st.Viewers)
	require.Equal(t, "running", st.State)
}

func TestProvider_GeneratedEventOrder(t *testing.T) {
	h := newHarness(t)
	h.p.AddViewer(viewers.AtChunk("v1", chunks.Pos{}), chunks.Pos{X: 1, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(1))

	var kinds []events.Kind
	for _, e := range h.bus.Events() {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []events.Kind{
		events.KindBlocksActivated,
		events.KindChunkGenerated,
		events.KindChunkLoaded,
	}, kinds)
	act := h.bus.Of(events.KindBlocksActivated)[0]
	require.Equal(t, chestID, act.Block)
	require.Equal(t, []chunks.Vec3i{{X: 0, Y: 1, Z: 0}}, act.Positions)
}

func TestProvider_EvictAbsentIsNoop(t *testing.T) {
	h := newHarness(t)
	require.False(t, h.p.Evict(chunks.Pos{X: 40}))
	require.False(t, h.p.Reload(chunks.Pos{X: 40}))
	require.Empty(t, h.bus.Events())
	require.Zero(t, h.store.StoreCount())
}

func TestProvider_LeewayHysteresis(t *testing.T) {
	h := newHarness(t)
	v := viewers.AtChunk("v1", chunks.Pos{})
	h.p.AddViewer(v, chunks.Pos{X: 1, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(1))

	// One chunk outside the strict box stays.
	v.MoveToChunk(chunks.Pos{X: 1})
	h.pumpUntil(t, func() bool { return h.p.IsChunkReady(chunks.Pos{X: 1}) })
	for range 5 {
		h.step()
	}
	require.True(t, h.p.IsChunkReady(chunks.Pos{}))
	require.Zero(t, h.bus.Count(events.KindBeforeChunkUnload))

	// Two chunks outside goes within a single sweep.
	v.MoveToChunk(chunks.Pos{X: 2})
	h.step()
	require.False(t, h.p.IsChunkReady(chunks.Pos{}))
	unloads := h.bus.Of(events.KindBeforeChunkUnload)
	require.Len(t, unloads, 1)
	require.Equal(t, chunks.Pos{}, *unloads[0].Pos)
	require.Contains(t, h.store.Positions(), chunks.Pos{})
}

func TestProvider_DeactivationAfterEvict(t *testing.T) {
	h := newHarness(t)
	v := viewers.AtChunk("v1", chunks.Pos{})
	h.p.AddViewer(v, chunks.Pos{X: 1, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(1))

	require.True(t, h.p.Evict(chunks.Pos{}))
	require.False(t, h.p.Evict(chunks.Pos{}))
	h.pumpUntil(t, func() bool {
		return h.bus.Count(events.KindBlocksDeactivated) == 1 && h.p.IsChunkReady(chunks.Pos{})
	})
	d := h.bus.Of(events.KindBlocksDeactivated)[0]
	require.Equal(t, chestID, d.Block)
	require.Equal(t, []chunks.Vec3i{{X: 0, Y: 1, Z: 0}}, d.Positions)
	// The viewer still covers the chunk, so it came back with its entity.
	require.Equal(t, 1, h.ents.Count())
}

func TestProvider_RestartEmitsPendingDeactivations(t *testing.T) {
	h := newHarness(t)
	h.p.AddViewer(viewers.AtChunk("v1", chunks.Pos{}), chunks.Pos{X: 1, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(1))

	require.True(t, h.p.RemoveViewer("v1"))
	require.True(t, h.p.Evict(chunks.Pos{}))
	require.NoError(t, h.p.Restart())

	require.Equal(t, 1, h.bus.Count(events.KindBeforeChunkUnload))
	require.Equal(t, 1, h.bus.Count(events.KindBlocksDeactivated))
	d := h.bus.Of(events.KindBlocksDeactivated)[0]
	require.Equal(t, chestID, d.Block)
	for range 5 {
		h.step()
	}
	require.Equal(t, 1, h.bus.Count(events.KindBlocksDeactivated))
	require.Zero(t, h.p.Stats().Unload.Dropped)
}

func TestProvider_ReloadRestoresFromStorage(t *testing.T) {
	h := newHarness(t)
	h.p.AddViewer(viewers.AtChunk("v1", chunks.Pos{}), chunks.Pos{X: 1, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(1))
	before, ok := h.p.GetChunk(chunks.Pos{})
	require.True(t, ok)
	digest := before.Digest()

	require.True(t, h.p.Reload(chunks.Pos{}))
	require.True(t, before.IsDisposed())
	h.pumpUntil(t, func() bool { return h.p.IsChunkReady(chunks.Pos{}) })

	after, _ := h.p.GetChunk(chunks.Pos{})
	require.Equal(t, digest, after.Digest())
	st := h.p.Stats()
	require.Equal(t, uint64(1), st.Generated)
	require.Equal(t, uint64(1), st.Loaded)
	require.Equal(t, 1, h.bus.Count(events.KindBlocksAdded))
	require.Equal(t, 1, h.ents.Count())
}

func TestProvider_PurgeWorld(t *testing.T) {
	h := newHarness(t)
	h.p.AddViewer(viewers.AtChunk("v1", chunks.Pos{}), chunks.Pos{X: 5, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(5))
	h.bus.Reset()

	require.NoError(t, h.p.PurgeWorld(context.Background()))
	require.Equal(t, 5, h.bus.Count(events.KindBeforeChunkUnload))
	require.Equal(t, 1, h.bus.Count(events.KindWorldPurged))
	require.Zero(t, h.p.Stats().Resident)
	require.Empty(t, h.store.Positions())
	require.Equal(t, StateRunning, h.p.State())

	// The pipeline accepts new work and regenerates from scratch.
	h.pumpUntil(t, h.resident(5))
	require.Equal(t, 5, h.bus.Count(events.KindChunkGenerated))
	require.Zero(t, h.p.Stats().Loaded)
}

func TestProvider_AtMostOneOwner(t *testing.T) {
	h := newHarness(t)
	v := viewers.AtChunk("v1", chunks.Pos{})
	b, _ := h.p.AddViewer(v, chunks.Pos{X: 3, Y: 3, Z: 3}, nil)
	area := b.Expand(3)

	check := func() {
		for pos := range area.All() {
			owner := h.p.pipe.Owner(pos)
			if owner != "" && h.p.cache.Contains(pos) {
				t.Fatalf("%s is %s and resident", pos, owner)
			}
		}
	}
	for i := range 200 {
		if i == 60 {
			v.MoveToChunk(chunks.Pos{X: 2})
		}
		if i == 120 {
			v.MoveToChunk(chunks.Pos{X: -1})
		}
		h.step()
		check()
		time.Sleep(time.Millisecond)
	}
}

func TestProvider_ProcessingDeadlineStillDrains(t *testing.T) {
	reg, err := chunks.NewRegistry([]chunks.BlockDef{{ID: stoneID, Name: "stone"}, {ID: chestID, Name: "chest", Lifecycle: true}})
	require.NoError(t, err)
	p, err := New(Config{Registry: reg, Generator: flatGen{}, ProcessingDeadline: time.Microsecond})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Dispose()

	p.AddViewer(viewers.AtChunk("v", chunks.Pos{}), chunks.Pos{X: 3, Y: 1, Z: 1}, nil)
	require.Eventually(t, func() bool {
		p.Relevance().Tick(0)
		p.Update()
		return p.Stats().Resident == 3
	}, 10*time.Second, time.Millisecond)
}

func TestProvider_ShutdownRestartDispose(t *testing.T) {
	h := newHarness(t)
	h.p.AddViewer(viewers.AtChunk("v1", chunks.Pos{}), chunks.Pos{X: 1, Y: 1, Z: 1}, nil)
	h.pumpUntil(t, h.resident(1))

	h.p.Shutdown()
	require.Equal(t, StateIdle, h.p.State())
	tick := h.p.Stats().Tick
	h.p.Update()
	require.Equal(t, tick, h.p.Stats().Tick)

	require.NoError(t, h.p.Restart())
	require.Equal(t, StateRunning, h.p.State())
	h.step()

	require.NoError(t, h.p.Dispose())
	require.Equal(t, StateDisposed, h.p.State())
	require.Zero(t, h.p.Stats().Resident)
	require.Equal(t, 1, h.bus.Count(events.KindBeforeChunkUnload))
	require.ErrorIs(t, h.p.Dispose(), ErrDisposed)
	require.ErrorIs(t, h.p.Start(), ErrDisposed)
	require.ErrorIs(t, h.p.Restart(), ErrDisposed)
	require.False(t, h.p.Evict(chunks.Pos{}))

	h.step()
	require.Zero(t, h.p.Stats().Resident)
}

func TestState_String(t *testing.T) {
	for s := StateIdle; s <= StateDisposed; s++ {
		require.NotContains(t, s.String(), "state(", fmt.Sprint(int(s)))
	}
}
