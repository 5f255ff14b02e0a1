package writeback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/persistence/codec"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]*codec.ChunkStore
	block   chan struct{}
}

func (r *recorder) flush(b []*codec.ChunkStore) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recorder) positions() []chunks.Pos {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chunks.Pos
	for _, b := range r.batches {
		for _, s := range b {
			out = append(out, s.Pos)
		}
	}
	return out
}

func item(p chunks.Pos, id uint16) *Item {
	c := chunks.New(p, 0)
	c.SetBlock(0, 0, 0, id)
	return &Item{Snap: c.Snapshot()}
}

func TestQueue_FlushesAndClearsPending(t *testing.T) {
	rec := &recorder{}
	q := New(16, rec.flush, nil)
	defer q.Close()

	p := chunks.Pos{X: 1}
	if err := q.Enqueue(item(p, 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Sync()
	if _, ok := q.Pending(p); ok {
		t.Fatalf("pending entry should be cleared after flush")
	}
	if got := rec.positions(); len(got) != 1 || got[0] != p {
		t.Fatalf("flushed=%v", got)
	}
	if st := q.Stats(); st.WrittenTotal != 1 || st.QueueCapacity != 16 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestQueue_PendingServesNewestItem(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	q := New(16, rec.flush, nil)

	p := chunks.Pos{Z: 2}
	_ = q.Enqueue(item(p, 1))
	_ = q.Enqueue(item(p, 2))
	it, ok := q.Pending(p)
	if !ok {
		t.Fatalf("expected pending item")
	}
	st, err := it.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c, err := st.Chunk()
	if err != nil || c.Block(0, 0, 0) != 2 {
		t.Fatalf("pending item is not the newest: %v", err)
	}
	close(rec.block)
	q.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.batches[len(rec.batches)-1]
	c, err = last[len(last)-1].Chunk()
	if err != nil || c.Block(0, 0, 0) != 2 {
		t.Fatalf("last write is not the newest item: %v", err)
	}
}

func TestQueue_FullQueueDrops(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	q := New(1, rec.flush, nil)
	// First item is taken by the writer and blocks in flush; fill the buffer behind it.
	var err error
	for i := range 4 {
		if err = q.Enqueue(item(chunks.Pos{X: i}, 1)); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	if q.Stats().DropTotal == 0 {
		t.Fatalf("drop not counted")
	}
	close(rec.block)
	q.Close()
	if err := q.Enqueue(item(chunks.Pos{}, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestQueue_DroppedItemKeepsOlderPending(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	entered := make(chan struct{}, 1)
	q := New(1, func(b []*codec.ChunkStore) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		return rec.flush(b)
	}, nil)

	// The writer takes this one and blocks in flush.
	if err := q.Enqueue(item(chunks.Pos{Y: 9}, 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer never flushed")
	}

	p := chunks.Pos{X: 3}
	if err := q.Enqueue(item(p, 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(item(p, 2)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	it, ok := q.Pending(p)
	if !ok {
		t.Fatalf("older item for %s no longer pending", p)
	}
	if b := it.Snap.Blocks()[chunks.Index(0, 0, 0)]; b != 1 {
		t.Fatalf("pending block=%d want 1", b)
	}

	close(rec.block)
	q.Sync()
	if _, ok := q.Pending(p); ok {
		t.Fatalf("pending entry should be cleared after flush")
	}
	got := rec.positions()
	if len(got) != 2 || got[1] != p {
		t.Fatalf("flushed=%v", got)
	}
	q.Close()
}

func TestQueue_SyncRacingCloseDoesNotPanic(t *testing.T) {
	for range 50 {
		q := New(4, (&recorder{}).flush, nil)
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = q.Enqueue(item(chunks.Pos{}, 1))
				q.Sync()
			}()
		}
		q.Close()
		wg.Wait()
	}
}
