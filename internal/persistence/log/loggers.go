package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/events"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed files, one file per
// UTC hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger persists chunk lifecycle events. Emit hands the event to a
// writer goroutine and drops it if the queue is full.
type EventLogger struct {
	w *JSONLZstdWriter

	ch   chan events.Event
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64
	lastErr atomic.Pointer[string]
}

func NewEventLogger(dataDir string, queue int) *EventLogger {
	if queue <= 0 {
		queue = 4096
	}
	l := &EventLogger{
		w:  NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events"),
		ch: make(chan events.Event, queue),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

func (l *EventLogger) Emit(e events.Event) {
	if l == nil || l.closed.Load() {
		return
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

func (l *EventLogger) loop() {
	defer l.wg.Done()
	for e := range l.ch {
		if err := l.w.Write(e); err != nil {
			l.errors.Add(1)
			msg := err.Error()
			l.lastErr.Store(&msg)
			continue
		}
		l.written.Add(1)
	}
}

// Close drains queued events and closes the current file.
func (l *EventLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

type LoggerStats struct {
	Written uint64
	Dropped uint64
	Errors  uint64
	LastErr string
}

func (l *EventLogger) Stats() LoggerStats {
	st := LoggerStats{
		Written: l.written.Load(),
		Dropped: l.dropped.Load(),
		Errors:  l.errors.Load(),
	}
	if p := l.lastErr.Load(); p != nil {
		st.LastErr = *p
	}
	return st
}

// ReadEvents decodes one event log file.
func ReadEvents(path string) ([]events.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []events.Event
	jd := json.NewDecoder(dec)
	for {
		var e events.Event
		if err := jd.Decode(&e); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
}

// EventFiles lists the event log files under dataDir, oldest first.
func EventFiles(dataDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "events", "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
