// Package unload computes block deactivations for evicted chunks off the
// main loop.
package unload

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelstream.ai/internal/chunks"
)

var (
	ErrStopped      = errors.New("unload worker stopped")
	ErrQueueTimeout = errors.New("unload queue full")
)

// Deactivation lists the lifecycle blocks of an evicted chunk.
type Deactivation struct {
	Pos      chunks.Pos
	Mappings chunks.BlockMappings
}

type reqKind int

const (
	reqUnload reqKind = iota + 1
	reqStop
)

type request struct {
	kind reqKind
	snap *chunks.Snapshot
	done chan struct{}
}

// Worker processes unload requests in FIFO order on one goroutine. Results
// accumulate until the owner calls Drain.
type Worker struct {
	reg      *chunks.Registry
	capacity int
	logger   *log.Logger

	mu      sync.Mutex
	ch      chan request
	running bool
	out     []Deactivation

	processed atomic.Uint64
	dropped   atomic.Uint64
}

func New(capacity int, reg *chunks.Registry, logger *log.Logger) *Worker {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &Worker{reg: reg, capacity: capacity, logger: logger}
	w.start()
	return w
}

func (w *Worker) start() {
	w.ch = make(chan request, w.capacity)
	w.running = true
	go w.loop(w.ch)
}

func (w *Worker) loop(ch chan request) {
	for r := range ch {
		switch r.kind {
		case reqStop:
			close(r.done)
			return
		case reqUnload:
			d := Deactivation{Pos: r.snap.Pos()}
			if w.reg != nil {
				d.Mappings = chunks.MappingsOf(r.snap, w.reg)
			}
			w.mu.Lock()
			w.out = append(w.out, d)
			w.mu.Unlock()
			w.processed.Add(1)
		}
	}
}

func (w *Worker) queue() (chan request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch, w.running
}

// Enqueue hands snap to the worker, waiting at most timeout for queue space.
func (w *Worker) Enqueue(snap *chunks.Snapshot, timeout time.Duration) error {
	ch, ok := w.queue()
	if !ok {
		return ErrStopped
	}
	r := request{kind: reqUnload, snap: snap}
	select {
	case ch <- r:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- r:
		return nil
	case <-timer.C:
		w.dropped.Add(1)
		w.logger.Printf("[unload] DROPPED deactivation for chunk %s: queue full", snap.Pos())
		return ErrQueueTimeout
	}
}

// Drain returns and clears the finished deactivations, oldest first.
func (w *Worker) Drain() []Deactivation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.out
	w.out = nil
	return out
}

// Shutdown queues a stop marker behind pending requests and waits for the
// worker to reach it. Requests still queued after a timeout are abandoned.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	ch := w.ch
	w.mu.Unlock()

	stop := request{kind: reqStop, done: make(chan struct{})}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- stop:
	case <-timer.C:
		w.logger.Printf("[unload] shutdown: queue still full after %s", timeout)
		return ErrQueueTimeout
	}
	select {
	case <-stop.done:
		return nil
	case <-timer.C:
		w.logger.Printf("[unload] shutdown: worker still busy after %s", timeout)
		return ErrQueueTimeout
	}
}

// Restart stops the worker after its queued requests and starts a fresh
// one. Undrained results are kept for the next Drain.
func (w *Worker) Restart(timeout time.Duration) error {
	err := w.Shutdown(timeout)
	w.mu.Lock()
	w.start()
	w.mu.Unlock()
	return err
}

type Stats struct {
	Queued    int
	Capacity  int
	Processed uint64
	Dropped   uint64
}

func (w *Worker) Stats() Stats {
	ch, _ := w.queue()
	return Stats{
		Queued:    len(ch),
		Capacity:  cap(ch),
		Processed: w.processed.Load(),
		Dropped:   w.dropped.Load(),
	}
}
