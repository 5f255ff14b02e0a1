package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/pipeline"
	"voxelstream.ai/internal/unload"
)

// Run ticks the tracker and the provider until ctx is done.
func (p *Provider) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(p.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.tracker.Tick(now.Sub(last))
			last = now
			p.Update()
		}
	}
}

// Update runs one tick: deactivation events, a bounded eviction sweep, then
// the ready queue drain. It does nothing unless the provider is running.
func (p *Provider) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return
	}
	p.tick++
	p.drainDeactivationsLocked()
	p.sweepLocked()
	n := p.drainReadyLocked()
	p.pipe.Request(n)
}

func (p *Provider) drainDeactivationsLocked() {
	for _, d := range p.unload.Drain() {
		p.emitAll(events.BlockEvents(events.KindBlocksDeactivated, d.Pos, d.Mappings))
	}
}

// sweepLocked evicts positions that left every region, resident ones first,
// stopping at UnloadPerTick evictions.
func (p *Provider) sweepLocked() {
	candidates := append(p.cache.Positions(), p.pipe.InFlight()...)
	evicted := 0
	for _, pos := range candidates {
		if p.tracker.IsInAnyRegion(pos) {
			continue
		}
		if p.evictLocked(pos) {
			evicted++
			if evicted >= p.cfg.UnloadPerTick {
				return
			}
		}
	}
}

func (p *Provider) drainReadyLocked() int {
	var deadline time.Time
	if p.cfg.ProcessingDeadline > 0 {
		deadline = time.Now().Add(p.cfg.ProcessingDeadline)
	}
	n := 0
	for {
		rs := p.pipe.TakeReady(1)
		if len(rs) == 0 {
			break
		}
		p.finalizeLocked(rs[0])
		p.pipe.Ack(rs[0])
		n++
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}
	return n
}

func (p *Provider) finalizeLocked(r *pipeline.Ready) {
	pos := r.Pos()
	if !p.tracker.IsInAnyRegion(pos) || p.cache.Contains(pos) || !r.Chunk.MarkReady() {
		r.Chunk.Dispose()
		p.stats.discarded.Add(1)
		return
	}
	p.cache.Put(pos, r.Chunk)

	if r.Generated {
		p.createEntities(r.Entities)
		p.emitAll(events.BlockEvents(events.KindBlocksActivated, pos, r.Mappings))
		p.emit(events.ChunkEvent(events.KindChunkGenerated, pos))
		p.stats.generated.Add(1)
	} else {
		p.createEntities(r.Entities)
		p.emitAll(events.BlockEvents(events.KindBlocksAdded, pos, r.Mappings))
		p.emitAll(events.BlockEvents(events.KindBlocksActivated, pos, r.Mappings))
		p.stats.loaded.Add(1)
	}
	p.emit(events.ChunkEvent(events.KindChunkLoaded, pos))
	p.tracker.NewChunk(r.Chunk)
}

func (p *Provider) createEntities(stubs []chunks.EntityStub) {
	if p.cfg.Entities == nil {
		return
	}
	for _, s := range stubs {
		p.cfg.Entities.Create(s)
	}
}

// Evict removes pos from memory. A position still in the pipeline is only
// cancelled and reported as false; a resident chunk is announced, stored,
// disposed and queued for deactivation.
func (p *Provider) Evict(pos chunks.Pos) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		return false
	}
	return p.evictLocked(pos)
}

func (p *Provider) evictLocked(pos chunks.Pos) bool {
	if p.pipe.Cancel(pos) {
		return false
	}
	c, ok := p.cache.Get(pos)
	if !ok {
		return false
	}
	p.emit(events.ChunkEvent(events.KindBeforeChunkUnload, pos))

	snap := c.Snapshot()
	var stubs []chunks.EntityStub
	if p.cfg.Entities != nil {
		stubs = p.cfg.Entities.Release(pos)
	}
	if p.cfg.Storage != nil {
		if err := p.cfg.Storage.Store(snap, stubs); err != nil {
			p.stats.storeFails.Add(1)
			p.logger.Printf("[provider] store chunk %s: %v", pos, err)
		}
	}
	c.Dispose()
	p.cache.Remove(pos)
	p.stats.evicted.Add(1)

	if err := p.unload.Enqueue(snap, p.cfg.UnloadEnqueueTimeout); errors.Is(err, unload.ErrStopped) {
		p.logger.Printf("[provider] DROPPED deactivation for chunk %s: unload worker stopped", pos)
	}
	p.tracker.ChunkUnloaded(pos)
	return true
}

// Reload evicts a resident chunk so the pipeline restores it again. It
// reports false when pos is not resident.
func (p *Provider) Reload(pos chunks.Pos) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning || !p.cache.Contains(pos) {
		return false
	}
	return p.evictLocked(pos)
}

// PurgeWorld evicts every chunk regardless of relevance, deletes all
// persisted data and starts the pipeline again from an empty backlog.
func (p *Provider) PurgeWorld(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return ErrNotRunning
	}
	p.state = StatePurgingWorld
	defer func() { p.state = StateRunning }()

	p.pipe.Shutdown()
	for _, pos := range p.cache.Positions() {
		p.evictLocked(pos)
	}
	p.cache.Clear()
	if err := p.unload.Shutdown(p.cfg.UnloadShutdownTimeout); err != nil {
		p.logger.Printf("[provider] purge: unload worker: %v", err)
	}
	p.drainDeactivationsLocked()

	var purgeErr error
	if p.cfg.Storage != nil {
		if err := p.cfg.Storage.DeleteWorld(ctx); err != nil {
			purgeErr = fmt.Errorf("delete world: %w", err)
		}
	}
	p.emit(events.Event{Kind: events.KindWorldPurged})

	if err := p.unload.Restart(p.cfg.UnloadShutdownTimeout); err != nil {
		p.logger.Printf("[provider] purge: restart unload worker: %v", err)
	}
	p.pipe.Restart()
	p.pipe.Request(p.cfg.MaxInFlight)
	return purgeErr
}

// Shutdown stops the pipeline and the unload worker. Resident chunks stay
// cached; Restart resumes.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed || p.state == StateIdle {
		return
	}
	p.pipe.Shutdown()
	if err := p.unload.Shutdown(p.cfg.UnloadShutdownTimeout); err != nil {
		p.logger.Printf("[provider] shutdown: unload worker: %v", err)
	}
	p.drainDeactivationsLocked()
	p.state = StateIdle
}

func (p *Provider) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		return ErrDisposed
	}
	p.state = StateRestarting
	p.pipe.Restart()
	if err := p.unload.Shutdown(p.cfg.UnloadShutdownTimeout); err != nil {
		p.logger.Printf("[provider] restart: unload worker: %v", err)
	}
	p.drainDeactivationsLocked()
	if err := p.unload.Restart(p.cfg.UnloadShutdownTimeout); err != nil {
		p.logger.Printf("[provider] restart: unload worker: %v", err)
	}
	p.state = StateRunning
	p.pipe.Request(p.cfg.MaxInFlight)
	return nil
}

// Dispose evicts and disposes every resident chunk and shuts everything
// down. No chunk is created afterwards; late pipeline results are
// discarded.
func (p *Provider) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		return ErrDisposed
	}
	prev := p.state
	p.state = StateDisposing
	p.pipe.Shutdown()
	if prev == StateIdle {
		if err := p.unload.Restart(p.cfg.UnloadShutdownTimeout); err != nil {
			p.logger.Printf("[provider] dispose: unload worker: %v", err)
		}
	}
	for _, pos := range p.cache.Positions() {
		p.evictLocked(pos)
	}
	p.cache.Clear()
	if err := p.unload.Shutdown(p.cfg.UnloadShutdownTimeout); err != nil {
		p.logger.Printf("[provider] dispose: unload worker: %v", err)
	}
	p.drainDeactivationsLocked()
	p.state = StateDisposed
	return nil
}

type Stats struct {
	State       string
	Tick        uint64
	Resident    int
	Viewers     int
	Pipeline    pipeline.Stats
	Unload      unload.Stats
	Generated   uint64
	Loaded      uint64
	Evicted     uint64
	Discarded   uint64
	StoreErrors uint64
}

func (p *Provider) Stats() Stats {
	p.mu.Lock()
	state, tick := p.state, p.tick
	p.mu.Unlock()
	return Stats{
		State:       state.String(),
		Tick:        tick,
		Resident:    p.cache.Len(),
		Viewers:     p.tracker.ViewerCount(),
		Pipeline:    p.pipe.Stats(),
		Unload:      p.unload.Stats(),
		Generated:   p.stats.generated.Load(),
		Loaded:      p.stats.loaded.Load(),
		Evicted:     p.stats.evicted.Load(),
		Discarded:   p.stats.discarded.Load(),
		StoreErrors: p.stats.storeFails.Load(),
	}
}
