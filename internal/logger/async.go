package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler's background work.
type Closer interface {
	Close()
}

// nopCloser is returned in synchronous mode, where there is nothing to drain.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from log output so hot paths like the
// invoke handlers and the stream read loops never block on a slow sink.
// Records flow through a bounded channel to background workers; when the
// channel is full the record is dropped and counted rather than queued.
type AsyncHandler struct {
	inner   slog.Handler
	records chan slog.Record
	wg      *sync.WaitGroup
	dropped *atomic.Int64
}

// NewAsyncHandler wraps inner with a record channel of the given capacity and
// starts workers goroutines to consume it.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		records: make(chan slog.Record, capacity),
		wg:      &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	for range workers {
		h.wg.Add(1)
		go h.consume()
	}
	return h
}

func (h *AsyncHandler) consume() {
	defer h.wg.Done()
	for rec := range h.records {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record without blocking; a full channel drops it.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.records <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs wraps a new inner handler; the channel, workers, and drop counter
// are shared with the parent.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithAttrs(attrs),
		records: h.records,
		wg:      h.wg,
		dropped: h.dropped,
	}
}

// WithGroup wraps a new inner handler; the channel, workers, and drop counter
// are shared with the parent.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithGroup(name),
		records: h.records,
		wg:      h.wg,
		dropped: h.dropped,
	}
}

// DroppedCount reports how many records were discarded on a full channel.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records and waits until the workers have written
// everything still queued.
func (h *AsyncHandler) Close() {
	close(h.records)
	h.wg.Wait()
}
