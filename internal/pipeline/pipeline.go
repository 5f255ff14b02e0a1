// Package pipeline turns needed chunk positions into ready chunks.
//
// Positions come from a Backlog ordered by priority. A worker pool loads or
// generates each chunk and runs it through an ordered list of stages. A
// barrier stage parks chunks until their neighborhood has caught up. Work is
// pulled: nothing is dispatched beyond the demand the consumer asked for.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voxelstream.ai/internal/chunks"
)

// Backlog supplies the positions that should be processed.
type Backlog interface {
	TakeChanged() bool
	NeededChunks() iter.Seq[chunks.Pos]
	PriorityOf(pos chunks.Pos) int
}

// Loaded is the output of a LoadFunc.
type Loaded struct {
	Chunk     *chunks.Chunk
	Generated bool
	Entities  []chunks.EntityStub
}

type LoadFunc func(ctx context.Context, pos chunks.Pos) (Loaded, error)

// Ready is a chunk that passed every stage and waits for the consumer.
type Ready struct {
	Chunk     *chunks.Chunk
	Mappings  chunks.BlockMappings
	Generated bool
	Entities  []chunks.EntityStub
	Elapsed   time.Duration
}

func (r *Ready) Pos() chunks.Pos { return r.Chunk.Pos() }

type Config struct {
	Workers  int
	Stages   []Stage
	Load     LoadFunc
	Backlog  Backlog
	Resident func(pos chunks.Pos) (*chunks.Chunk, bool)
	Registry *chunks.Registry

	// Limiter caps chunk starts per second. Nil means unlimited.
	Limiter *rate.Limiter

	// ShutdownTimeout bounds how long Shutdown waits for workers.
	ShutdownTimeout time.Duration

	Observer Observer
	Logger   *log.Logger
}

type task struct {
	pos     chunks.Pos
	epoch   uint64
	started time.Time

	// Guarded by Pipeline.mu.
	cancelled bool
	parkedAt  int // stage index, -1 when not parked
	stage     int // next stage to run

	// Owned by whichever worker runs the task.
	chunk     *chunks.Chunk
	generated bool
	entities  []chunks.EntityStub
}

type Pipeline struct {
	cfg    Config
	logger *log.Logger
	obs    Observer

	mu       sync.Mutex
	pending  []chunks.Pos
	queued   map[chunks.Pos]struct{}
	inflight map[chunks.Pos]*task
	// cancelling holds cancelled tasks whose worker has not let go yet.
	cancelling map[chunks.Pos]*task
	ready    []*Ready
	handoff  map[chunks.Pos]*Ready // ready or drained but not yet acked
	demand   int
	active   int // in flight and not parked
	parked   int
	epoch    uint64
	stopped  bool
	stale    bool // recompute on the next Request

	completing bool
	done       chan struct{}
	doneOnce   *sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	work   *workQueue
	wg     *sync.WaitGroup
}

// followup is work found while holding the lock and started after it.
type followup struct {
	groups []*group
	starts []*task
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Load == nil || cfg.Backlog == nil {
		return nil, errors.New("pipeline: Load and Backlog are required")
	}
	if err := validateStages(cfg.Stages); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Resident == nil {
		cfg.Resident = func(chunks.Pos) (*chunks.Chunk, bool) { return nil, false }
	}
	p := &Pipeline{cfg: cfg, logger: cfg.Logger, obs: cfg.Observer}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	p.start()
	return p, nil
}

func (p *Pipeline) start() {
	p.pending = nil
	p.queued = map[chunks.Pos]struct{}{}
	p.inflight = map[chunks.Pos]*task{}
	p.cancelling = map[chunks.Pos]*task{}
	p.ready = nil
	p.handoff = map[chunks.Pos]*Ready{}
	p.demand, p.active, p.parked = 0, 0, 0
	p.epoch++
	p.stopped = false
	p.stale = true
	p.completing = false
	p.done = make(chan struct{})
	p.doneOnce = &sync.Once{}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.work = newWorkQueue()
	p.wg = &sync.WaitGroup{}
	for range p.cfg.Workers {
		p.wg.Add(1)
		go p.worker(p.work, p.wg)
	}
}

func (p *Pipeline) worker(q *workQueue, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		job, ok := q.pop()
		if !ok {
			return
		}
		job()
	}
}

// Request adds n to the outstanding demand and dispatches what it allows.
// It never blocks on chunk work.
func (p *Pipeline) Request(n int) {
	p.mu.Lock()
	if p.stopped || p.completing {
		p.mu.Unlock()
		return
	}
	p.demand += max(n, 0)
	if p.cfg.Backlog.TakeChanged() || p.stale {
		p.stale = false
		p.recomputeLocked()
	}
	starts := p.fillLocked()
	p.mu.Unlock()
	p.submit(starts...)
}

// Wake re-reads the backlog if it changed and dispatches within the current
// demand.
func (p *Pipeline) Wake() { p.Request(0) }

// fillLocked dispatches pending positions while demand allows. It does not
// consult the backlog; only Request does.
func (p *Pipeline) fillLocked() []*task {
	if p.stopped || p.completing {
		return nil
	}
	var starts []*task
	for p.active < p.demand && len(p.pending) > 0 {
		pos := p.pending[0]
		if p.ownedLocked(pos) || p.resident(pos) {
			p.popPendingLocked()
			continue
		}
		if p.cfg.Limiter != nil && !p.cfg.Limiter.Allow() {
			break
		}
		p.popPendingLocked()
		t := &task{pos: pos, epoch: p.epoch, parkedAt: -1, started: time.Now()}
		p.inflight[pos] = t
		p.active++
		starts = append(starts, t)
	}
	return starts
}

func (p *Pipeline) popPendingLocked() {
	delete(p.queued, p.pending[0])
	p.pending = p.pending[1:]
}

// recomputeLocked rebuilds the pending list from the backlog, dropping
// positions that are no longer needed and ordering the rest by priority.
func (p *Pipeline) recomputeLocked() {
	seen := map[chunks.Pos]struct{}{}
	prio := map[chunks.Pos]int{}
	var list []chunks.Pos
	for pos := range p.cfg.Backlog.NeededChunks() {
		if _, ok := seen[pos]; ok {
			continue
		}
		seen[pos] = struct{}{}
		if p.ownedLocked(pos) || p.resident(pos) {
			continue
		}
		prio[pos] = p.cfg.Backlog.PriorityOf(pos)
		list = append(list, pos)
	}
	sort.Slice(list, func(i, j int) bool {
		pi, pj := prio[list[i]], prio[list[j]]
		if pi != pj {
			return pi < pj
		}
		return list[i].Less(list[j])
	})
	p.pending = list
	p.queued = make(map[chunks.Pos]struct{}, len(list))
	for _, pos := range list {
		p.queued[pos] = struct{}{}
	}
}

func (p *Pipeline) ownedLocked(pos chunks.Pos) bool {
	if _, ok := p.inflight[pos]; ok {
		return true
	}
	if _, ok := p.cancelling[pos]; ok {
		return true
	}
	_, ok := p.handoff[pos]
	return ok
}

// forgetLocked ends the cancellation of t once its worker is done with it.
// The position becomes eligible again on the next Request.
func (p *Pipeline) forgetLocked(t *task) {
	if p.cancelling[t.pos] == t {
		delete(p.cancelling, t.pos)
		p.stale = true
	}
}

func (p *Pipeline) resident(pos chunks.Pos) bool {
	_, ok := p.cfg.Resident(pos)
	return ok
}

// settleLocked collects merges that became possible and starts that fit
// into the freed demand.
func (p *Pipeline) settleLocked() followup {
	f := followup{groups: p.reevaluateLocked(), starts: p.fillLocked()}
	p.checkDoneLocked()
	return f
}

func (p *Pipeline) followup(f followup) {
	for _, g := range f.groups {
		if !p.work.push(func() { p.merge(g, nil) }) {
			for _, m := range g.members {
				p.drop(m)
			}
		}
	}
	p.submit(f.starts...)
}

func (p *Pipeline) submit(ts ...*task) {
	for _, t := range ts {
		if !p.work.push(func() { p.run(t) }) {
			p.drop(t)
		}
	}
}

func (p *Pipeline) run(t *task) {
	if t.chunk == nil {
		if p.isCancelled(t) {
			p.drop(t)
			return
		}
		p.obs.Started(t.pos)
		var res Loaded
		err := safely(func() error {
			var err error
			res, err = p.cfg.Load(p.ctx, t.pos)
			return err
		})
		if err == nil && res.Chunk == nil {
			err = errors.New("no chunk produced")
		}
		if err != nil {
			p.fail(t, "load", err)
			return
		}
		t.chunk, t.generated, t.entities = res.Chunk, res.Generated, res.Entities
	}

	for t.stage < len(p.cfg.Stages) {
		if p.isCancelled(t) {
			p.drop(t)
			return
		}
		st := p.cfg.Stages[t.stage]
		if st.Kind == KindSingle {
			c := t.chunk
			if err := safely(func() error { return st.Run(c) }); err != nil {
				p.fail(t, st.Name, err)
				return
			}
			p.obs.StageDone(t.pos, st.Name)
			p.advance(t)
			continue
		}
		if !p.arrive(t, t.stage) {
			return
		}
	}
	p.finish(t)
}

func (p *Pipeline) advance(t *task) {
	p.mu.Lock()
	t.stage++
	p.mu.Unlock()
}

func (p *Pipeline) isCancelled(t *task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return t.cancelled || t.epoch != p.epoch
}

// fail logs err and drops the chunk. The position is retried after the
// next Request recomputes the backlog.
func (p *Pipeline) fail(t *task, stage string, err error) {
	p.obs.Failed(t.pos, stage, err)
	p.logger.Printf("[pipeline] chunk %s failed at %s: %v", t.pos, stage, err)
	p.mu.Lock()
	if p.inflight[t.pos] == t && !t.cancelled {
		p.releaseLocked(t)
		p.stale = true
	}
	p.forgetLocked(t)
	f := p.settleLocked()
	p.mu.Unlock()
	p.disposeTask(t)
	p.followup(f)
}

// drop discards a cancelled task.
func (p *Pipeline) drop(t *task) {
	p.mu.Lock()
	var f followup
	if p.inflight[t.pos] == t {
		p.releaseLocked(t)
		f = p.settleLocked()
	}
	p.forgetLocked(t)
	p.checkDoneLocked()
	p.mu.Unlock()
	p.disposeTask(t)
	p.followup(f)
}

func (p *Pipeline) releaseLocked(t *task) {
	delete(p.inflight, t.pos)
	if t.parkedAt >= 0 {
		t.parkedAt = -1
		p.parked--
	} else {
		p.active--
	}
}

func (p *Pipeline) disposeTask(t *task) {
	if t.chunk != nil {
		t.chunk.Dispose()
	}
}

func (p *Pipeline) finish(t *task) {
	if !t.chunk.MarkAwaitingFinalization() {
		p.fail(t, "finalize", errors.New("chunk left generating state early"))
		return
	}
	var mappings chunks.BlockMappings
	if p.cfg.Registry != nil {
		mappings = chunks.MappingsOf(t.chunk.Snapshot(), p.cfg.Registry)
	}
	r := &Ready{
		Chunk:     t.chunk,
		Mappings:  mappings,
		Generated: t.generated,
		Entities:  t.entities,
		Elapsed:   time.Since(t.started),
	}

	p.mu.Lock()
	if p.inflight[t.pos] != t || t.cancelled || t.epoch != p.epoch {
		p.forgetLocked(t)
		p.mu.Unlock()
		p.disposeTask(t)
		return
	}
	p.releaseLocked(t)
	p.demand = max(p.demand-1, 0)
	p.ready = append(p.ready, r)
	p.handoff[t.pos] = r
	f := p.settleLocked()
	p.mu.Unlock()

	p.obs.Finished(t.pos)
	p.followup(f)
}

// TakeReady removes up to max chunks from the ready queue (all when max <= 0).
// The positions stay owned by the pipeline until Ack.
func (p *Pipeline) TakeReady(max int) []*Ready {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.ready)
	if max > 0 && max < n {
		n = max
	}
	out := make([]*Ready, n)
	copy(out, p.ready[:n])
	clear(p.ready[:n])
	p.ready = p.ready[n:]
	return out
}

// Ack releases a position returned by TakeReady once the consumer has
// stored or discarded it.
func (p *Pipeline) Ack(r *Ready) {
	p.mu.Lock()
	if p.handoff[r.Pos()] == r {
		delete(p.handoff, r.Pos())
	}
	p.mu.Unlock()
}

// Cancel stops processing at pos. It reports whether pos was in flight.
// Workers notice the cancellation at their next stage boundary; a chunk
// already in the ready queue is unaffected. The position stays owned until
// its worker lets go, so no second task starts while the first still runs.
// If pos is still needed a later Request queues it again.
func (p *Pipeline) Cancel(pos chunks.Pos) bool {
	p.mu.Lock()
	if _, ok := p.queued[pos]; ok {
		delete(p.queued, pos)
		for i, q := range p.pending {
			if q == pos {
				p.pending = append(p.pending[:i], p.pending[i+1:]...)
				break
			}
		}
	}
	t, ok := p.inflight[pos]
	var parkedChunk *chunks.Chunk
	if ok {
		if t.parkedAt >= 0 {
			parkedChunk = t.chunk
		}
		wasParked := t.parkedAt >= 0
		t.cancelled = true
		p.releaseLocked(t)
		if !wasParked {
			p.cancelling[pos] = t
		}
		p.stale = true
	}
	f := p.settleLocked()
	p.mu.Unlock()

	if parkedChunk != nil {
		parkedChunk.Dispose()
	}
	p.followup(f)
	return ok
}

// Complete tells the pipeline no further demand will arrive. Pending
// positions are dropped, in-flight work finishes, and Done closes once
// nothing is in flight.
func (p *Pipeline) Complete() {
	p.mu.Lock()
	p.completing = true
	p.pending, p.queued = nil, map[chunks.Pos]struct{}{}
	f := p.settleLocked()
	p.mu.Unlock()
	p.followup(f)
}

func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Pipeline) checkDoneLocked() {
	if p.completing && len(p.inflight) == 0 {
		once, done := p.doneOnce, p.done
		once.Do(func() { close(done) })
	}
}

// Shutdown cancels all work, discards every queued chunk and waits for the
// workers up to the configured timeout. The pipeline rejects further demand
// until Restart.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	var dispose []*chunks.Chunk
	for _, t := range p.inflight {
		if t.parkedAt >= 0 {
			dispose = append(dispose, t.chunk)
		}
		t.cancelled = true
	}
	clear(p.inflight)
	clear(p.cancelling)
	for _, r := range p.handoff {
		dispose = append(dispose, r.Chunk)
	}
	clear(p.handoff)
	p.ready = nil
	p.pending, p.queued = nil, map[chunks.Pos]struct{}{}
	p.demand, p.active, p.parked = 0, 0, 0
	p.completing = true
	p.checkDoneLocked()
	cancel, work, wg := p.cancel, p.work, p.wg
	p.mu.Unlock()

	cancel()
	work.close()
	for _, c := range dispose {
		c.Dispose()
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Printf("[pipeline] workers still busy after %s; abandoning", p.cfg.ShutdownTimeout)
	}
}

// Restart shuts the pipeline down and starts a fresh worker pool with an
// empty backlog and no demand.
func (p *Pipeline) Restart() {
	p.Shutdown()
	p.mu.Lock()
	p.start()
	p.mu.Unlock()
}

// Pending reports whether pos waits to be dispatched.
func (p *Pipeline) Pending(pos chunks.Pos) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.queued[pos]
	return ok
}

// Processing reports whether pos is in flight or in the ready queue.
func (p *Pipeline) Processing(pos chunks.Pos) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownedLocked(pos)
}

// Owner names the single place pos occupies in the pipeline: "pending",
// "in-flight", "cancelling", "ready" or "" when the pipeline does not hold
// it.
func (p *Pipeline) Owner(pos chunks.Pos) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queued[pos]; ok {
		return "pending"
	}
	if _, ok := p.inflight[pos]; ok {
		return "in-flight"
	}
	if _, ok := p.cancelling[pos]; ok {
		return "cancelling"
	}
	if _, ok := p.handoff[pos]; ok {
		return "ready"
	}
	return ""
}

// InFlight lists positions currently inside the worker stages.
func (p *Pipeline) InFlight() []chunks.Pos {
	p.mu.Lock()
	out := make([]chunks.Pos, 0, len(p.inflight))
	for pos := range p.inflight {
		out = append(out, pos)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type Stats struct {
	Pending  int
	InFlight int
	Parked   int
	Ready    int
	Demand   int
	Active   int
	Stopped  bool
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Pending:  len(p.pending),
		InFlight: len(p.inflight),
		Parked:   p.parked,
		Ready:    len(p.ready),
		Demand:   p.demand,
		Active:   p.active,
		Stopped:  p.stopped,
	}
}
