package pipeline

import (
	"sync/atomic"

	"voxelstream.ai/internal/chunks"
)

// Observer receives diagnostics. Methods are called from worker
// goroutines and must be cheap.
type Observer interface {
	Started(pos chunks.Pos)
	StageDone(pos chunks.Pos, stage string)
	Parked(pos chunks.Pos, stage string)
	Merged(stage string, group int)
	Failed(pos chunks.Pos, stage string, err error)
	Finished(pos chunks.Pos)
}

type nopObserver struct{}

func (nopObserver) Started(chunks.Pos)               {}
func (nopObserver) StageDone(chunks.Pos, string)     {}
func (nopObserver) Parked(chunks.Pos, string)        {}
func (nopObserver) Merged(string, int)               {}
func (nopObserver) Failed(chunks.Pos, string, error) {}
func (nopObserver) Finished(chunks.Pos)              {}

// Counters is an Observer that only counts.
type Counters struct {
	StartedTotal  atomic.Uint64
	ParkedTotal   atomic.Uint64
	MergesTotal   atomic.Uint64
	FailedTotal   atomic.Uint64
	FinishedTotal atomic.Uint64
}

func (c *Counters) Started(chunks.Pos)               { c.StartedTotal.Add(1) }
func (c *Counters) StageDone(chunks.Pos, string)     {}
func (c *Counters) Parked(chunks.Pos, string)        { c.ParkedTotal.Add(1) }
func (c *Counters) Merged(string, int)               { c.MergesTotal.Add(1) }
func (c *Counters) Failed(chunks.Pos, string, error) { c.FailedTotal.Add(1) }
func (c *Counters) Finished(chunks.Pos)              { c.FinishedTotal.Add(1) }
