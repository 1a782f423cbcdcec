package snapshot

import (
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink is any durable destination for a captured snapshot.
type Sink interface {
	Write(snap Snapshot) error
}

// AsyncWriter decouples the simulation thread from the underlying
// sink: Write hands the snapshot to a bounded helper pool and returns
// immediately. Snapshot values are self-contained copies by the time
// Capture returns, so the helper can encode and flush them while the
// simulation keeps mutating the live world. Failures are logged, never
// surfaced to the tick — a failed write leaves the previous latest
// snapshot in place.
type AsyncWriter struct {
	sink Sink
	g    *errgroup.Group
	log  *zap.Logger
}

// NewAsyncWriter wraps sink. At most two writes are in flight at once;
// further captures arriving while both slots are busy are dropped with
// a warning rather than queued without bound.
func NewAsyncWriter(sink Sink, log *zap.Logger) *AsyncWriter {
	g := &errgroup.Group{}
	g.SetLimit(2)
	return &AsyncWriter{sink: sink, g: g, log: log}
}

// Write schedules snap for writing and returns immediately.
func (w *AsyncWriter) Write(snap Snapshot) error {
	scheduled := w.g.TryGo(func() error {
		if err := w.sink.Write(snap); err != nil {
			w.log.Error("snapshot: async write failed", zap.Uint64("tick", snap.Tick), zap.Error(err))
			return nil
		}
		w.log.Debug("snapshot: written", zap.Uint64("tick", snap.Tick))
		return nil
	})
	if !scheduled {
		w.log.Warn("snapshot: writer saturated, skipping capture", zap.Uint64("tick", snap.Tick))
	}
	return nil
}

// Close waits for in-flight writes to finish.
func (w *AsyncWriter) Close() {
	_ = w.g.Wait()
}
