// Package relay implements the per-host aggregation proxy: it caches the
// latest broadcast for all local workers, avoiding redundant fetches across
// a network hop, and batches local results onto one upstream connection.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evostrat/evostrat/es"
	"github.com/evostrat/evostrat/pkg/broker"
)

const (
	defaultBatchSize     = 64
	defaultFlushInterval = 500 * time.Millisecond
	defaultMaxBackoff    = 30 * time.Second

	initialBackoff = 250 * time.Millisecond
)

type Relay struct {
	upstream      broker.TaskBroker
	local         broker.TaskBroker
	batchSize     int
	flushInterval time.Duration
	maxBackoff    time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	cachedGen uint64
	cached    bool
	queue     []es.RolloutResult
	flushReq  chan struct{}
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		r.batchSize = n
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(r *Relay) {
		r.flushInterval = d
	}
}

func WithMaxBackoff(d time.Duration) Option {
	return func(r *Relay) {
		r.maxBackoff = d
	}
}

func New(upstream, local broker.TaskBroker, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		upstream:      upstream,
		local:         local,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		maxBackoff:    defaultMaxBackoff,
		logger:        logger,
		flushReq:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Relay) Run(ctx context.Context) error {
	if err := r.upstream.SubscribeGenerations(ctx, func(bc es.Broadcast) {
		r.forwardBroadcast(ctx, bc)
	}); err != nil {
		return err
	}

	if err := r.local.SubscribeResults(ctx, func(res es.RolloutResult) {
		r.enqueue(res)
	}); err != nil {
		return err
	}

	if err := r.local.SubscribeRegistrations(ctx, func(reg es.Registration) {
		if err := r.upstream.Announce(ctx, reg); err != nil {
			r.logger.Debug("failed to forward registration", slog.String("worker_id", reg.WorkerID), slog.Any("error", err))
		}
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))

			return ctx.Err()
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushReq:
			r.flush(ctx)
		}
	}
}

// forwardBroadcast republishes upstream broadcasts to local workers. The
// cache is monotonic: a re-delivered or out-of-order broadcast from an older
// generation is never served, so local workers cannot regress, even across
// upstream reconnects.
func (r *Relay) forwardBroadcast(ctx context.Context, bc es.Broadcast) {
	r.mu.Lock()
	if r.cached && bc.Params.Generation <= r.cachedGen {
		r.mu.Unlock()

		return
	}
	r.cachedGen = bc.Params.Generation
	r.cached = true
	r.mu.Unlock()

	if err := r.local.PublishGeneration(ctx, bc); err != nil {
		r.logger.Error("failed to republish broadcast locally",
			slog.Uint64("generation", bc.Params.Generation),
			slog.Any("error", err))

		return
	}

	r.logger.Info("cached new generation", slog.Uint64("generation", bc.Params.Generation))
}

func (r *Relay) enqueue(res es.RolloutResult) {
	r.mu.Lock()
	r.queue = append(r.queue, res)
	full := len(r.queue) >= r.batchSize
	r.mu.Unlock()

	if full {
		select {
		case r.flushReq <- struct{}{}:
		default:
		}
	}
}

// flush forwards the queued batch upstream. On failure it retries with
// exponential backoff while local workers keep being served from the cache;
// results survive the outage in the queue and only go away when their
// generation has gone stale.
func (r *Relay) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()

		return
	}
	batch := r.queue
	r.queue = nil
	gen := r.cachedGen
	r.mu.Unlock()

	fresh := batch[:0]
	dropped := 0
	for _, res := range batch {
		if res.Generation < gen {
			dropped++

			continue
		}
		fresh = append(fresh, res)
	}
	if dropped > 0 {
		r.logger.Debug("dropped stale queued results", slog.Int("count", dropped))
	}

	backoff := initialBackoff
	for i, res := range fresh {
		for {
			err := r.upstream.SubmitResult(ctx, res)
			if err == nil {
				backoff = initialBackoff

				break
			}

			r.logger.Warn("upstream submit failed, backing off",
				slog.Duration("backoff", backoff),
				slog.Any("error", err))

			select {
			case <-ctx.Done():
				// Requeue what is left for the final flush.
				r.requeue(fresh[i:])

				return
			case <-time.After(backoff):
			}

			if backoff < r.maxBackoff {
				backoff *= 2
			}

			if r.staleNow(res.Generation) {
				break
			}
		}
	}
}

func (r *Relay) requeue(rest []es.RolloutResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(rest, r.queue...)
}

func (r *Relay) staleNow(generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cached && generation < r.cachedGen
}

// CachedGeneration reports the newest generation observed upstream, zero if
// none yet.
func (r *Relay) CachedGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cachedGen
}

// Queued reports the number of results waiting for upstream delivery.
func (r *Relay) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue)
}
