package persistence

import (
	"context"
	"time"

	"PortfolioLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Document is one dirty store document queued for flushing.
type Document struct {
	Key   string
	Value string
}

// FlushWorker drains the dirty-document channel and writes to the backing
// store. Flushes are fire-and-forget from the engine's point of view: a
// failed write is logged, kept pending, and retried on the next flush
// trigger. Business operations never block on or fail because of a flush.
//
// Documents are coalesced per key, so a burst of mutations to the same
// store results in a single write of the latest value.
type FlushWorker struct {
	kv           KeyValueStore
	input        <-chan Document
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger

	pending map[string]string
	failed  map[string]bool
}

func NewFlushWorker(
	kv KeyValueStore,
	input <-chan Document,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *FlushWorker {
	return &FlushWorker{
		kv:           kv,
		input:        input,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log.With().Str("component", "flush_worker").Logger(),
		pending:      make(map[string]string),
		failed:       make(map[string]bool),
	}
}

// Run loops until ctx is cancelled, coalescing incoming documents and
// flushing on each timeout tick. A final flush runs on shutdown so ordinary
// termination loses nothing.
func (w *FlushWorker) Run(ctx context.Context) error {
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return ctx.Err()

		case doc, ok := <-w.input:
			if !ok {
				w.flush(context.Background())
				return nil
			}
			w.pending[doc.Key] = doc.Value
			w.metrics.FlushPendingDocs.Set(float64(len(w.pending)))

		case <-timer.C:
			w.flush(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *FlushWorker) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}

	start := time.Now()
	for key, value := range w.pending {
		if w.failed[key] {
			w.metrics.FlushRetries.Inc()
		}

		if err := w.kv.Set(ctx, key, value); err != nil {
			w.log.Error().Err(err).Str("key", key).Msg("flush failed, will retry")
			w.metrics.FlushErrors.WithLabelValues(key).Inc()
			w.failed[key] = true
			continue
		}

		delete(w.pending, key)
		delete(w.failed, key)
		w.metrics.FlushWrites.Inc()
	}

	w.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	w.metrics.FlushPendingDocs.Set(float64(len(w.pending)))
}
