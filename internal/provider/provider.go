// Package provider keeps the set of resident chunks in line with what
// viewers need. It owns the cache, the relevance tracker, the generation
// pipeline and the unload worker, and drives them from a single tick.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/lighting"
	"voxelstream.ai/internal/persistence/codec"
	"voxelstream.ai/internal/pipeline"
	"voxelstream.ai/internal/relevance"
	"voxelstream.ai/internal/unload"
)

var (
	ErrDisposed   = errors.New("provider disposed")
	ErrNotRunning = errors.New("provider not running")
)

// Storage persists chunks between sessions. Store must not block on I/O.
type Storage interface {
	Load(ctx context.Context, pos chunks.Pos) (*codec.ChunkStore, bool, error)
	Store(snap *chunks.Snapshot, entities []chunks.EntityStub) error
	DeleteWorld(ctx context.Context) error
}

type Generator interface {
	Generate(c *chunks.Chunk) ([]chunks.EntityStub, error)
}

// EntityManager owns the entities living in resident chunks.
type EntityManager interface {
	Create(stub chunks.EntityStub) uint64
	Release(pos chunks.Pos) []chunks.EntityStub
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateRestarting
	StateDisposing
	StatePurgingWorld
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateDisposing:
		return "disposing"
	case StatePurgingWorld:
		return "purging_world"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Config struct {
	Registry  *chunks.Registry
	Generator Generator
	Storage   Storage       // optional
	Entities  EntityManager // optional
	Events    events.Bus    // optional

	ExtraChannels int

	Workers int
	// MaxInFlight is the demand granted at start; each drained chunk
	// requests one more.
	MaxInFlight     int
	GenerationRate  float64 // chunk starts per second, 0 = unlimited
	GenerationBurst int

	UnloadPerTick         int
	ProcessingDeadline    time.Duration // 0 drains the ready queue fully
	UnloadQueueSize       int
	UnloadEnqueueTimeout  time.Duration
	UnloadShutdownTimeout time.Duration

	TickRateHz int

	Observer pipeline.Observer
	Logger   *log.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.GenerationBurst <= 0 {
		c.GenerationBurst = max(c.Workers, 1)
	}
	if c.UnloadPerTick <= 0 {
		c.UnloadPerTick = 64
	}
	if c.UnloadQueueSize <= 0 {
		c.UnloadQueueSize = 1024
	}
	if c.UnloadEnqueueTimeout <= 0 {
		c.UnloadEnqueueTimeout = time.Second
	}
	if c.UnloadShutdownTimeout <= 0 {
		c.UnloadShutdownTimeout = 5 * time.Second
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.Events == nil {
		c.Events = events.Nop{}
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

type counters struct {
	generated  atomic.Uint64
	loaded     atomic.Uint64
	evicted    atomic.Uint64
	discarded  atomic.Uint64
	storeFails atomic.Uint64
}

type Provider struct {
	cfg    Config
	logger *log.Logger
	bus    events.Bus

	cache   *chunkcache.Cache
	tracker *relevance.Tracker
	pipe    *pipeline.Pipeline
	unload  *unload.Worker

	// mu serializes the main-thread operations: Update, eviction, purge,
	// restart and dispose.
	mu    sync.Mutex
	state State
	tick  uint64

	stats counters
}

func New(cfg Config) (*Provider, error) {
	if cfg.Registry == nil {
		return nil, errors.New("provider: registry is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("provider: generator is required")
	}
	cfg.defaults()

	p := &Provider{cfg: cfg, logger: cfg.Logger, bus: cfg.Events}
	p.cache = chunkcache.New()
	p.tracker = relevance.NewTracker(p.cache)

	var limiter *rate.Limiter
	if cfg.GenerationRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GenerationRate), cfg.GenerationBurst)
	}
	merger := lighting.Merger{Registry: cfg.Registry}
	pipe, err := pipeline.New(pipeline.Config{
		Workers: cfg.Workers,
		Stages: []pipeline.Stage{
			pipeline.Single("internal-lighting", func(c *chunks.Chunk) error {
				lighting.Internal(c, cfg.Registry)
				return nil
			}),
			pipeline.Barrier("light-merge", merger.RequiredChunks, func(group []*chunks.Chunk, lookup pipeline.Lookup) error {
				merger.Merge(group, lookup)
				return nil
			}),
			pipeline.Single("deflate", func(c *chunks.Chunk) error {
				c.Deflate()
				return nil
			}),
		},
		Load:     p.load,
		Backlog:  p.tracker,
		Resident: p.cache.Get,
		Registry: cfg.Registry,
		Limiter:  limiter,
		Observer: cfg.Observer,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	p.pipe = pipe
	p.tracker.OnChange(p.pipe.Wake)
	p.unload = unload.New(cfg.UnloadQueueSize, cfg.Registry, cfg.Logger)
	return p, nil
}

// load restores pos from storage or generates it. Runs on pipeline workers.
func (p *Provider) load(ctx context.Context, pos chunks.Pos) (pipeline.Loaded, error) {
	if p.cfg.Storage != nil {
		st, ok, err := p.cfg.Storage.Load(ctx, pos)
		if err != nil {
			return pipeline.Loaded{}, fmt.Errorf("storage load: %w", err)
		}
		if ok {
			c, err := st.Chunk()
			if err != nil {
				return pipeline.Loaded{}, fmt.Errorf("decode stored chunk: %w", err)
			}
			return pipeline.Loaded{Chunk: c, Entities: st.RestoreEntities()}, nil
		}
	}
	c := chunks.New(pos, p.cfg.ExtraChannels)
	stubs, err := p.cfg.Generator.Generate(c)
	if err != nil {
		return pipeline.Loaded{}, fmt.Errorf("generate: %w", err)
	}
	return pipeline.Loaded{Chunk: c, Generated: true, Entities: stubs}, nil
}

// Start arms the pipeline with its initial demand.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateRunning:
		return nil
	case StateDisposed, StateDisposing:
		return ErrDisposed
	}
	p.state = StateRunning
	p.pipe.Request(p.cfg.MaxInFlight)
	return nil
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) Relevance() *relevance.Tracker { return p.tracker }

// AddViewer starts tracking v. See relevance.Tracker.AddViewer.
func (p *Provider) AddViewer(v relevance.Viewer, distance chunks.Pos, l relevance.Listener) (chunks.Bounds, bool) {
	return p.tracker.AddViewer(v, distance, l)
}

func (p *Provider) RemoveViewer(id string) bool { return p.tracker.RemoveViewer(id) }

func (p *Provider) UpdateDistance(id string, distance chunks.Pos) bool {
	return p.tracker.UpdateDistance(id, distance)
}

// GetChunk returns the resident chunk at pos if it is ready.
func (p *Provider) GetChunk(pos chunks.Pos) (*chunks.Chunk, bool) {
	c, ok := p.cache.Get(pos)
	if !ok || !c.IsReady() {
		return nil, false
	}
	return c, true
}

func (p *Provider) IsChunkReady(pos chunks.Pos) bool {
	_, ok := p.GetChunk(pos)
	return ok
}

// ResidentPositions lists cached chunk positions in order.
func (p *Provider) ResidentPositions() []chunks.Pos { return p.cache.Positions() }

func (p *Provider) emit(e events.Event) {
	e.Tick = p.tick
	e.Time = time.Now().UTC()
	p.bus.Emit(e)
}

func (p *Provider) emitAll(es []events.Event) {
	for _, e := range es {
		p.emit(e)
	}
}
