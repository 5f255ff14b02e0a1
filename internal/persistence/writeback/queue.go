// Package writeback runs a single writer goroutine in front of a chunk
// database. Stores are queued without blocking the caller; loads consult
// the queue first so a chunk evicted and requested again in quick
// succession never reads a stale row.
package writeback

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/persistence/codec"
)

var (
	ErrClosed    = errors.New("writeback: queue closed")
	ErrQueueFull = errors.New("writeback: queue full")
)

// Item is a chunk waiting to be written.
type Item struct {
	Snap     *chunks.Snapshot
	Entities []chunks.EntityStub

	handled bool // guarded by Queue.mu once queued
}

// Encode turns the item into a ChunkStore.
func (it *Item) Encode() (*codec.ChunkStore, error) {
	return codec.NewChunkStore(it.Snap, it.Entities)
}

// FlushFunc writes a batch. It runs on the writer goroutine only.
type FlushFunc func(batch []*codec.ChunkStore) error

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	WrittenTotal  uint64
	DropTotal     uint64
	ErrorTotal    uint64
}

type op struct {
	item *Item
	sync chan struct{}
}

type Queue struct {
	flush  FlushFunc
	logger *log.Logger

	ch   chan op
	wg   sync.WaitGroup
	once sync.Once

	// sendMu orders sends on ch before Close closes it.
	sendMu sync.RWMutex
	closed atomic.Bool

	mu      sync.Mutex
	pending map[chunks.Pos]*Item

	written atomic.Uint64
	drops   atomic.Uint64
	errs    atomic.Uint64
}

const maxBatch = 256

func New(capacity int, flush FlushFunc, logger *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	if logger == nil {
		logger = log.Default()
	}
	q := &Queue{
		flush:   flush,
		logger:  logger,
		ch:      make(chan op, capacity),
		pending: map[chunks.Pos]*Item{},
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop()
	}()
	return q
}

// Enqueue never blocks. A full queue drops the write and reports it.
func (q *Queue) Enqueue(it *Item) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed.Load() {
		return ErrClosed
	}
	pos := it.Snap.Pos()
	q.mu.Lock()
	prev := q.pending[pos]
	q.pending[pos] = it
	q.mu.Unlock()
	select {
	case q.ch <- op{item: it}:
		return nil
	default:
		// The older item is still the newest one that will reach the database.
		q.mu.Lock()
		if q.pending[pos] == it {
			if prev != nil && !prev.handled {
				q.pending[pos] = prev
			} else {
				delete(q.pending, pos)
			}
		}
		q.mu.Unlock()
		q.drops.Add(1)
		return ErrQueueFull
	}
}

// Pending returns the newest queued item for pos, if any.
func (q *Queue) Pending(pos chunks.Pos) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.pending[pos]
	return it, ok
}

// Sync blocks until every item queued before the call has been flushed.
func (q *Queue) Sync() {
	q.sendMu.RLock()
	if q.closed.Load() {
		q.sendMu.RUnlock()
		return
	}
	done := make(chan struct{})
	q.ch <- op{sync: done}
	q.sendMu.RUnlock()
	<-done
}

// Discard forgets queued items that have not been flushed yet.
func (q *Queue) Discard() {
	q.mu.Lock()
	q.pending = map[chunks.Pos]*Item{}
	q.mu.Unlock()
}

func (q *Queue) Stats() Stats {
	return Stats{
		QueueDepth:    len(q.ch),
		QueueCapacity: cap(q.ch),
		WrittenTotal:  q.written.Load(),
		DropTotal:     q.drops.Load(),
		ErrorTotal:    q.errs.Load(),
	}
}

// Close flushes what is queued and stops the writer.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.sendMu.Lock()
		q.closed.Store(true)
		close(q.ch)
		q.sendMu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) loop() {
	batch := make([]*Item, 0, maxBatch)
	var waiters []chan struct{}
	for first := range q.ch {
		batch, waiters = q.collect(first, batch[:0], waiters[:0])
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-q.ch:
				if !ok {
					break drain
				}
				batch, waiters = q.collect(next, batch, waiters)
			default:
				break drain
			}
		}
		q.write(batch)
		for _, w := range waiters {
			close(w)
		}
	}
}

func (q *Queue) collect(o op, batch []*Item, waiters []chan struct{}) ([]*Item, []chan struct{}) {
	if o.sync != nil {
		return batch, append(waiters, o.sync)
	}
	return append(batch, o.item), waiters
}

func (q *Queue) write(batch []*Item) {
	if len(batch) == 0 {
		return
	}
	// Only the newest item per position is still wanted.
	q.mu.Lock()
	live := make([]*Item, 0, len(batch))
	for _, it := range batch {
		if q.pending[it.Snap.Pos()] == it {
			live = append(live, it)
		}
	}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		for _, it := range batch {
			it.handled = true
		}
		for _, it := range live {
			if q.pending[it.Snap.Pos()] == it {
				delete(q.pending, it.Snap.Pos())
			}
		}
		q.mu.Unlock()
	}()

	stores := make([]*codec.ChunkStore, 0, len(live))
	for _, it := range live {
		st, err := it.Encode()
		if err != nil {
			q.errs.Add(1)
			q.logger.Printf("encode chunk %s: %v", it.Snap.Pos(), err)
			continue
		}
		stores = append(stores, st)
	}
	if len(stores) == 0 {
		return
	}
	if err := q.flush(stores); err != nil {
		q.errs.Add(1)
		q.logger.Printf("flush %d chunks: %v", len(stores), err)
	} else {
		q.written.Add(uint64(len(stores)))
	}
}
