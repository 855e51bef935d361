// Package dispatcher orders the single-writer pipeline: invalidate caches,
// apply the event to graph state, recompute the canonical graph, and emit to
// the sink when the canonical hash changes. It is the only component that
// suspends cooperatively, at reading the next event and at submitting an
// emit.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"atlas/internal/atlas/canonical"
	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/transitive"
	"atlas/internal/atlas/tree"
	atlaserrors "atlas/internal/core/errors"
	"atlas/internal/core/ports"
	"atlas/internal/shared/observability"
)

// Dispatcher owns graph state, the transitive cache, and the canonical
// processor exclusively, and drives them against a Source and a Sink.
type Dispatcher struct {
	state     *graph.State
	cache     *transitive.Cache
	processor *canonical.Processor
	source    ports.Source
	sink      ports.Sink
	cursor    ports.Cursor

	backoffPolicy func() backoff.BackOff
	emitsTotal    int
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithBackoffPolicy overrides the retry backoff used when the sink reports
// SinkUnavailable. The default is backoff.NewExponentialBackOff's policy;
// whichever policy is used, retries stop after two minutes of elapsed time.
func WithBackoffPolicy(f func() backoff.BackOff) Option {
	return func(d *Dispatcher) { d.backoffPolicy = f }
}

// New builds a Dispatcher from a Config, optionally resuming from a loaded
// Snapshot. If snap is nil, processing starts from empty graph state with no
// cursor.
func New(cfg ports.Config, source ports.Source, sink ports.Sink, snap *ports.Snapshot, opts ...Option) *Dispatcher {
	state := graph.New()
	var cursor ports.Cursor
	hasher := tree.NewDefaultHasher(cfg.HashSeed)

	if snap != nil {
		if snap.State != nil {
			state = snap.State
		}
		cursor = snap.Cursor
	}

	cache := transitive.NewCache(state, hasher, cfg.CacheEntryCap)
	processor := canonical.New(cfg.RootNodeID, state, cache)
	if snap != nil && snap.HasHash {
		processor.Seed(snap.LastHash)
	}

	d := &Dispatcher{
		state:     state,
		cache:     cache,
		processor: processor,
		source:    source,
		sink:      sink,
		cursor:    cursor,
		backoffPolicy: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the dispatcher's graph state for read-only introspection
// (e.g. by the persistence collaborator's periodic save, or a monitor UI).
// Callers must not mutate it.
func (d *Dispatcher) State() *graph.State { return d.state }

// CacheStats reports the number of memoized entries per transitive-graph
// variant.
func (d *Dispatcher) CacheStats() (full, explicitOnly int) { return d.cache.Len() }

// Snapshot captures the dispatcher's current resumable state.
func (d *Dispatcher) Snapshot() ports.Snapshot {
	hash, hasHash := d.processor.LastHash()
	return ports.Snapshot{State: d.state, LastHash: hash, HasHash: hasHash, Cursor: d.cursor}
}

// EmitsTotal reports how many canonical graphs have been durably emitted
// since this Dispatcher was constructed.
func (d *Dispatcher) EmitsTotal() int { return d.emitsTotal }

// Run first recomputes the canonical graph against the starting state and
// emits it if its hash differs from the last emitted one (always, when not
// resuming from a snapshot), then drives the dispatcher loop until ctx is
// canceled, the source is exhausted (io.EOF, returned as nil), or the
// source / sink reports a terminal error. A cancel signal only interrupts at
// a suspension point (reading the next delivery, or submitting an emit); an
// in-flight event always runs its invalidate/apply/recompute/emit-or-skip
// sequence to completion first, so partial state is never observable.
func (d *Dispatcher) Run(ctx context.Context) error {
	if canonicalGraph, changed := d.processor.Recompute(); changed {
		if err := d.emitWithRetry(ctx, canonicalGraph); err != nil {
			return err
		}
		d.emitsTotal++
		observability.CanonicalEmitsTotal.Inc()
	}

	for {
		delivery, err := d.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if delivery.Reorg != nil {
			// Reorg recovery is delegated to an external collaborator; the
			// core only knows how to resume once told where.
			if err := d.source.Resume(ctx, delivery.Reorg.ResumeCursor); err != nil {
				return err
			}
			continue
		}

		if err := d.processDelivery(ctx, delivery); err != nil {
			return err
		}
	}
}

// processDelivery runs the four-stage pipeline for one event: invalidate,
// apply, recompute, emit — in that strict order, because invalidation must
// observe pre-event state to resolve reverse dependencies that are about to
// become stale.
func (d *Dispatcher) processDelivery(ctx context.Context, delivery ports.Delivery) error {
	if err := validateEvent(delivery.Event); err != nil {
		observability.EventsRejectedTotal.Inc()
		slog.Warn("malformed event rejected", "error", err)
		return err
	}

	d.cache.InvalidateForEvent(delivery.Event)
	d.state.Apply(delivery.Event)
	observability.EventsAppliedTotal.Inc()

	if err := d.state.CheckInvariants(); err != nil {
		slog.Error("invariant violation, halting", "error", err)
		return err
	}

	recomputeStarted := time.Now()
	canonicalGraph, changed := d.processor.Recompute()
	observability.RecomputeDuration.Observe(time.Since(recomputeStarted).Seconds())
	if changed {
		if err := d.emitWithRetry(ctx, canonicalGraph); err != nil {
			return err
		}
		d.emitsTotal++
		observability.CanonicalEmitsTotal.Inc()
	}

	d.cursor = delivery.Cursor
	observability.GraphNodes.Set(float64(d.state.NodeCount()))
	if full, explicitOnly := d.cache.Len(); true {
		observability.CacheEntriesFull.Set(float64(full))
		observability.CacheEntriesExplicit.Set(float64(explicitOnly))
	}

	return d.source.Ack(ctx, delivery.Cursor)
}

// emitWithRetry submits g to the sink, retrying with backoff on
// SinkUnavailable. Core state (including last_hash, already advanced by
// Recompute) is only considered durable once the sink acknowledges; on
// repeated failure past the backoff policy's budget, the condition is
// surfaced to the caller and the dispatcher halts without dropping the
// event.
func (d *Dispatcher) emitWithRetry(ctx context.Context, g *canonical.Graph) error {
	operation := func() (struct{}, error) {
		err := d.sink.Emit(ctx, g)
		if err == nil {
			return struct{}{}, nil
		}
		if atlaserrors.IsSinkUnavailable(err) {
			observability.SinkRetryTotal.Inc()
			return struct{}{}, err // retryable
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(d.backoffPolicy()),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	return err
}

func validateEvent(e graph.Event) error {
	var zero id.NodeId
	switch e.Kind {
	case graph.NodeCreated:
		if e.Node == zero {
			return atlaserrors.NewMalformedEvent("node created with nil node id")
		}
	case graph.ExplicitEdgeAdded, graph.ExplicitEdgeRemoved:
		if e.Source == zero || e.Target == zero {
			return atlaserrors.NewMalformedEvent("explicit edge with nil endpoint")
		}
	case graph.TopicEdgeAdded, graph.TopicEdgeRemoved, graph.TopicMembershipAdded, graph.TopicMembershipRemoved:
		if e.Source == zero && e.Node == zero {
			return atlaserrors.NewMalformedEvent("topic event with nil node id")
		}
	}
	return nil
}
