// Package app hosts the durable sink decorator and health introspection
// that sit between the dispatcher's core and its external collaborators.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"atlas/internal/atlas/canonical"
	atlaserrors "atlas/internal/core/errors"
	"atlas/internal/core/ports"
	"atlas/internal/data/queue"
	"atlas/internal/shared/observability"
)

// DurableSinkConfig configures the background worker's batching and retry
// behavior.
type DurableSinkConfig struct {
	MemoryCapacity       int
	SpoolPath            string
	BatchSize            int
	FlushInterval        time.Duration
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	ShutdownDrainTimeout time.Duration
}

// DurableSink wraps a ports.Sink, buffering emits in memory and spilling to
// a durable SQLite spool under backpressure, so a transient sink outage
// never drops an emit: it is retried with backoff until acknowledged.
type DurableSink struct {
	inner  ports.Sink
	cfg    DurableSinkConfig
	queue  *queue.MemoryQueue
	spool  *queue.SQLiteSpool
	cancel context.CancelFunc
	done   chan struct{}

	// retryBaseDelay/retryMaxDelay mirror cfg's fields but are reloadable at
	// runtime via UpdateRetryDelays, independent of the rest of cfg which is
	// fixed for the sink's lifetime.
	retryBaseDelay atomic.Int64
	retryMaxDelay  atomic.Int64
}

// NewDurableSink builds a DurableSink wrapping inner and starts its
// background worker.
func NewDurableSink(inner ports.Sink, cfg DurableSinkConfig) (*DurableSink, error) {
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}

	ds := &DurableSink{inner: inner, cfg: cfg, queue: queue.NewMemoryQueue(cfg.MemoryCapacity)}
	ds.retryBaseDelay.Store(int64(cfg.RetryBaseDelay))
	ds.retryMaxDelay.Store(int64(cfg.RetryMaxDelay))
	if cfg.SpoolPath != "" {
		spool, err := queue.OpenSQLiteSpool(cfg.SpoolPath)
		if err != nil {
			return nil, err
		}
		ds.spool = spool
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds.cancel = cancel
	ds.done = make(chan struct{})
	go ds.run(ctx)
	return ds, nil
}

// Emit enqueues g for the background worker; it never blocks on the
// downstream transport. Under backpressure it spills to the durable spool
// instead of dropping the emit.
func (d *DurableSink) Emit(ctx context.Context, g *canonical.Graph) error {
	switch d.queue.Enqueue(g) {
	case queue.EnqueueAccepted:
		return nil
	case queue.EnqueueDropped:
		if d.spool == nil {
			return atlaserrors.NewSinkUnavailable("emit queue full and no spool configured", nil)
		}
		if err := d.spool.Enqueue(g); err != nil {
			return atlaserrors.NewSinkUnavailable("emit queue full and spool enqueue failed", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown enqueue result")
	}
}

func (d *DurableSink) run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		memBatch, err := d.queue.DequeueBatch(ctx, d.cfg.BatchSize, d.cfg.FlushInterval)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("emit queue dequeue failed", "error", err)
			continue
		}

		batch := append([]*canonical.Graph(nil), memBatch...)

		var spooled []queue.SpoolRow
		if len(batch) < d.cfg.BatchSize && d.spool != nil {
			rows, spoolErr := d.spool.DequeueBatch(ctx, d.cfg.BatchSize-len(batch))
			if spoolErr != nil {
				slog.Warn("emit spool dequeue failed", "error", spoolErr)
			} else {
				for _, row := range rows {
					batch = append(batch, row.Graph)
				}
				spooled = rows
			}
		}

		if len(batch) == 0 {
			if errors.Is(err, io.EOF) {
				return
			}
			continue
		}

		started := time.Now()
		sendErr := d.sendBatch(ctx, batch)
		if sendErr != nil {
			slog.Warn("durable sink send failed", "error", sendErr, "batch_size", len(batch))
			d.handleSendFailure(spooled, memBatch, sendErr)
		} else {
			observability.SnapshotSaveLatencySeconds.Observe(time.Since(started).Seconds())
			if d.spool != nil && len(spooled) > 0 {
				ids := make([]int64, 0, len(spooled))
				for _, row := range spooled {
					ids = append(ids, row.ID)
				}
				if ackErr := d.spool.Ack(ids); ackErr != nil {
					slog.Warn("emit spool ack failed", "error", ackErr, "count", len(ids))
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return
		}
	}
}

func (d *DurableSink) sendBatch(ctx context.Context, batch []*canonical.Graph) error {
	for _, g := range batch {
		if err := d.inner.Emit(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (d *DurableSink) handleSendFailure(spooled []queue.SpoolRow, memBatch []*canonical.Graph, sendErr error) {
	if d.spool == nil {
		return
	}
	for _, g := range memBatch {
		if err := d.spool.Enqueue(g); err != nil {
			slog.Warn("failed to spill emit to spool", "error", err)
		}
	}
	if len(spooled) == 0 {
		return
	}
	maxAttempts := 0
	for _, row := range spooled {
		if row.Attempts > maxAttempts {
			maxAttempts = row.Attempts
		}
	}
	next := time.Now().Add(d.backoffDelay(maxAttempts + 1))
	if err := d.spool.Nack(spooled, next, sendErr.Error()); err != nil {
		slog.Warn("emit spool nack failed", "error", err)
	}
}

// backoffDelay computes the retry delay for attempts, reading the base/max
// bounds from their reloadable atomics rather than the frozen cfg snapshot.
func (d *DurableSink) backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := time.Duration(d.retryBaseDelay.Load())
	max := time.Duration(d.retryMaxDelay.Load())

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// UpdateRetryDelays applies new retry backoff bounds to the running sink,
// taking effect on the next retry decision. Values <= 0 are ignored, leaving
// the corresponding bound unchanged.
func (d *DurableSink) UpdateRetryDelays(base, max time.Duration) {
	if base > 0 {
		d.retryBaseDelay.Store(int64(base))
	}
	if max > 0 {
		d.retryMaxDelay.Store(int64(max))
	}
}

// PendingCount reports in-memory plus spooled emits awaiting delivery, for
// observability.
func (d *DurableSink) PendingCount(ctx context.Context) int {
	count := d.queue.Len()
	if d.spool != nil {
		if spooled, err := d.spool.PendingCount(ctx); err == nil {
			count += spooled
		}
	}
	return count
}

// Close stops the background worker, draining whatever it can within
// ShutdownDrainTimeout before returning.
func (d *DurableSink) Close(ctx context.Context) error {
	drainTimeout := d.cfg.ShutdownDrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, drainTimeout)
		defer cancel()
	}

	// Closing the memory queue lets the worker deliver what is still buffered
	// and then stop on io.EOF; its context is canceled once it has stopped or
	// the drain deadline has passed.
	if err := d.queue.Close(); err != nil {
		return err
	}
	select {
	case <-d.done:
		d.cancel()
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}

	if d.spool != nil {
		return d.spool.Close()
	}
	return nil
}
