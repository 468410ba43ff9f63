package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// DefaultWindow is the debounce window used when Schedule is given zero.
const DefaultWindow = time.Second

// Setter is the write half of a Backend.
type Setter interface {
	Set(ctx context.Context, key string, value []byte) error
}

// Writer debounces writes per key. Each Schedule replaces the key's pending
// payload and restarts its timer, so a burst of edits lands as one write
// holding the latest payload. Payloads identical to the last one written
// for a key are skipped.
//
// After a write fails with ErrQuotaExceeded the writer is degraded: pending
// and future writes are dropped and the caller keeps its state in memory.
type Writer struct {
	sink    Setter
	logger  *zap.Logger
	timeout time.Duration

	// writeMu serializes writes so a key's payloads land in the order they
	// were taken from pending.
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingWrite
	digests  map[string][blake2b.Size256]byte
	gen      uint64
	degraded error
	lastErr  error
	closed   bool
}

type pendingWrite struct {
	data  []byte
	gen   uint64
	timer *time.Timer
}

// NewWriter returns a Writer that writes to sink. A nil logger logs
// nothing.
func NewWriter(sink Setter, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		sink:    sink,
		logger:  logger,
		timeout: 10 * time.Second,
		pending: map[string]*pendingWrite{},
		digests: map[string][blake2b.Size256]byte{},
	}
}

// Schedule queues data for key, superseding any pending payload for it.
// The write fires once window passes with no newer Schedule for the key.
func (w *Writer) Schedule(key string, data []byte, window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.degraded != nil || w.closed {
		w.logger.Debug("dropping write", zap.String("key", key), zap.Bool("degraded", w.degraded != nil))
		return
	}

	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.pending[key] = &pendingWrite{
		data:  data,
		gen:   gen,
		timer: time.AfterFunc(window, func() { w.fire(key, gen) }),
	}
	w.logger.Debug("write scheduled", zap.String("key", key), zap.Int("bytes", len(data)), zap.Duration("window", window))
}

// fire writes key's pending payload if it is still the one scheduled as
// gen.
func (w *Writer) fire(key string, gen uint64) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	p, ok := w.pending[key]
	if !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.write(ctx, key, p.data); err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
	}
}

// Flush writes every pending payload now. It returns the first write error,
// including one from an earlier timer-driven write. Quota failures are not
// returned; check Degraded.
func (w *Writer) Flush(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = map[string]*pendingWrite{}
	firstErr := w.lastErr
	w.lastErr = nil
	w.mu.Unlock()

	for key, p := range batch {
		p.timer.Stop()
		if err := w.write(ctx, key, p.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and stops accepting writes.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}

// Pending returns the number of keys waiting to be written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Degraded returns the quota error that put the writer into memory-only
// mode, or nil.
func (w *Writer) Degraded() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

// write performs one backend write. Callers hold writeMu.
func (w *Writer) write(ctx context.Context, key string, data []byte) error {
	sum := blake2b.Sum256(data)

	w.mu.Lock()
	if w.degraded != nil {
		w.mu.Unlock()
		return nil
	}
	last, seen := w.digests[key]
	w.mu.Unlock()

	if seen && last == sum {
		w.logger.Debug("skipping unchanged write", zap.String("key", key))
		return nil
	}

	start := time.Now()
	err := w.sink.Set(ctx, key, data)
	if errors.Is(err, ErrQuotaExceeded) {
		w.mu.Lock()
		w.degraded = err
		for k, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, k)
		}
		w.mu.Unlock()
		w.logger.Warn("storage quota exceeded; continuing in memory only",
			zap.String("key", key), zap.Int("bytes", len(data)), zap.Error(err))
		return nil
	}
	if err != nil {
		w.logger.Error("write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("writing %s: %w", key, err)
	}

	w.mu.Lock()
	w.digests[key] = sum
	w.mu.Unlock()
	w.logger.Debug("write complete", zap.String("key", key), zap.Int("bytes", len(data)), zap.Duration("took", time.Since(start)))
	return nil
}
