package pipeline

import (
	"sort"

	"voxelstream.ai/internal/chunks"
)

// neighborState says where a required position stands relative to a
// barrier stage.
type neighborState int

const (
	// absent positions are not queued anywhere and will not arrive.
	absent neighborState = iota
	// coming positions are pending or still before the barrier.
	coming
	// arrived positions are parked at the barrier.
	arrived
	// passed positions are past the barrier, ready or resident.
	passed
)

// group is a set of parked tasks released together for one merge.
type group struct {
	stage   int
	members []*task
}

func (g *group) has(t *task) bool {
	for _, m := range g.members {
		if m == t {
			return true
		}
	}
	return false
}

func (p *Pipeline) classifyLocked(pos chunks.Pos, stage int) neighborState {
	if t, ok := p.inflight[pos]; ok {
		switch {
		case t.parkedAt == stage:
			return arrived
		case t.stage > stage:
			return passed
		default:
			return coming
		}
	}
	if _, ok := p.handoff[pos]; ok {
		return passed
	}
	if p.resident(pos) {
		return passed
	}
	if _, ok := p.queued[pos]; ok && !p.completing && !p.stopped {
		return coming
	}
	return absent
}

// satisfiedLocked reports whether no required neighbor of t is still
// coming. Absent neighbors never block.
func (p *Pipeline) satisfiedLocked(t *task) bool {
	st := p.cfg.Stages[t.parkedAt]
	for _, req := range st.Required(t.pos) {
		if req == t.pos {
			continue
		}
		if p.classifyLocked(req, t.parkedAt) == coming {
			return false
		}
	}
	return true
}

// reevaluateLocked releases every parked task whose neighborhood is
// complete. A satisfied task is grouped with its satisfied parked neighbors
// so each chunk is merged exactly once.
func (p *Pipeline) reevaluateLocked() []*group {
	if p.parked == 0 {
		return nil
	}
	var parked []*task
	for _, t := range p.inflight {
		if t.parkedAt >= 0 {
			parked = append(parked, t)
		}
	}
	sort.Slice(parked, func(i, j int) bool { return parked[i].pos.Less(parked[j].pos) })

	ok := make(map[*task]bool, len(parked))
	for _, t := range parked {
		ok[t] = p.satisfiedLocked(t)
	}

	taken := map[*task]bool{}
	var groups []*group
	for _, t := range parked {
		if !ok[t] || taken[t] {
			continue
		}
		g := &group{stage: t.parkedAt, members: []*task{t}}
		taken[t] = true
		for _, req := range p.cfg.Stages[t.parkedAt].Required(t.pos) {
			n, found := p.inflight[req]
			if !found || n == t || taken[n] || !ok[n] || n.parkedAt != t.parkedAt {
				continue
			}
			g.members = append(g.members, n)
			taken[n] = true
		}
		groups = append(groups, g)
	}
	for _, g := range groups {
		for _, m := range g.members {
			m.parkedAt = -1
			p.parked--
			p.active++
		}
	}
	return groups
}

// arrive parks t at a barrier stage. It returns true when t's group merged
// on this goroutine and t should continue; false when t stays parked or was
// dropped.
func (p *Pipeline) arrive(t *task, stage int) bool {
	p.mu.Lock()
	if t.cancelled || p.inflight[t.pos] != t {
		p.mu.Unlock()
		p.drop(t)
		return false
	}
	t.parkedAt = stage
	p.active--
	p.parked++
	p.obs.Parked(t.pos, p.cfg.Stages[stage].Name)
	f := p.settleLocked()
	p.mu.Unlock()

	var own *group
	others := f.groups[:0:0]
	for _, g := range f.groups {
		if own == nil && g.has(t) {
			own = g
			continue
		}
		others = append(others, g)
	}
	f.groups = others
	p.followup(f)
	if own == nil {
		return false
	}
	return p.merge(own, t)
}

// merge runs the barrier stage for g and resumes every member except self,
// which the caller continues. Without self it always returns false.
func (p *Pipeline) merge(g *group, self *task) bool {
	st := p.cfg.Stages[g.stage]
	cs := make([]*chunks.Chunk, len(g.members))
	for i, m := range g.members {
		cs[i] = m.chunk
	}
	err := safely(func() error { return st.Merge(cs, p.lookup(g.stage)) })
	if err != nil {
		for _, m := range g.members {
			p.fail(m, st.Name, err)
		}
		return false
	}
	p.obs.Merged(st.Name, len(g.members))

	p.mu.Lock()
	for _, m := range g.members {
		m.stage++
	}
	f := p.settleLocked()
	selfLive := self != nil && !self.cancelled && p.inflight[self.pos] == self
	p.mu.Unlock()

	for _, m := range g.members {
		if m != self {
			p.submit(m)
		}
	}
	if self != nil && !selfLive {
		p.drop(self)
	}
	p.followup(f)
	return selfLive
}

// lookup exposes chunks that sit at or past the stage as read-only merge
// input.
func (p *Pipeline) lookup(stage int) Lookup {
	return func(pos chunks.Pos) (*chunks.Chunk, bool) {
		p.mu.Lock()
		if t, ok := p.inflight[pos]; ok && (t.parkedAt == stage || t.stage > stage) && t.chunk != nil {
			c := t.chunk
			p.mu.Unlock()
			return c, true
		}
		if r, ok := p.handoff[pos]; ok {
			p.mu.Unlock()
			return r.Chunk, true
		}
		p.mu.Unlock()
		return p.cfg.Resident(pos)
	}
}
