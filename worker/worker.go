package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/evostrat/evostrat/es"
	"github.com/evostrat/evostrat/pkg/broker"
)

const (
	defaultHeartbeat = 5 * time.Second

	submitRetries      = 5
	submitRetryBackoff = 100 * time.Millisecond

	seedStride = 1_000_003
)

// Worker is a stateless compute unit: it observes the latest broadcast,
// derives seed-bound perturbations, evaluates both sides of each antithetic
// pair against the environment and reports the returns. Generation
// advancement is the sole cancellation signal — an in-flight rollout is
// abandoned as soon as a newer broadcast arrives.
type Worker struct {
	id         string
	name       string
	taskBroker broker.TaskBroker
	env        Environment
	heartbeat  time.Duration
	logger     *slog.Logger

	mu            sync.Mutex
	latest        *es.Broadcast
	cancelRollout context.CancelFunc
	notify        chan struct{}

	seedOffset int64
	counter    int64
	rng        *rand.Rand
}

type Option func(*Worker)

func WithHeartbeat(interval time.Duration) Option {
	return func(w *Worker) {
		w.heartbeat = interval
	}
}

func New(id, name string, taskBroker broker.TaskBroker, env Environment, logger *slog.Logger, opts ...Option) *Worker {
	h := fnv.New32a()
	h.Write([]byte(id))

	w := &Worker{
		id:         id,
		name:       name,
		taskBroker: taskBroker,
		env:        env,
		heartbeat:  defaultHeartbeat,
		logger:     logger,
		notify:     make(chan struct{}, 1),
		seedOffset: int64(h.Sum32()) * seedStride,
		rng:        rand.New(rand.NewSource(int64(h.Sum32()))),
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

func (w *Worker) Run(ctx context.Context) error {
	if err := w.taskBroker.SubscribeGenerations(ctx, w.observe); err != nil {
		return err
	}

	if err := w.taskBroker.Announce(ctx, es.Registration{
		WorkerID: w.id,
		Name:     w.name,
		Status:   es.StatusAlive,
	}); err != nil {
		w.logger.Warn("failed to announce worker", slog.Any("error", err))
	}

	go w.startHeartbeats(ctx)

	var lastDone uint64
	seen := false
	for {
		bc, err := w.waitBroadcast(ctx, lastDone, seen)
		if err != nil {
			return err
		}

		w.runTask(ctx, bc)
		lastDone = bc.Params.Generation
		seen = true
	}
}

// observe is the broadcast subscription handler. An older generation than
// the one already observed is ignored: a worker must never regress to stale
// parameters.
func (w *Worker) observe(bc es.Broadcast) {
	w.mu.Lock()
	if w.latest != nil && bc.Params.Generation <= w.latest.Params.Generation {
		w.mu.Unlock()

		return
	}
	w.latest = &bc
	cancel := w.cancelRollout
	w.cancelRollout = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Worker) waitBroadcast(ctx context.Context, lastDone uint64, seen bool) (es.Broadcast, error) {
	for {
		w.mu.Lock()
		latest := w.latest
		w.mu.Unlock()

		if latest != nil && (!seen || latest.Params.Generation > lastDone) {
			return *latest, nil
		}

		select {
		case <-ctx.Done():
			return es.Broadcast{}, ctx.Err()
		case <-w.notify:
		}
	}
}

func (w *Worker) runTask(ctx context.Context, bc es.Broadcast) {
	rollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancelRollout = cancel
	w.mu.Unlock()

	task := bc.Task
	for i := 0; i < task.RolloutsRequested; i++ {
		if w.stale(task.Generation) {
			w.logger.Debug("abandoning task, generation advanced",
				slog.Uint64("generation", task.Generation))

			return
		}

		var result es.RolloutResult
		var err error
		if w.rng.Float64() < task.EvalProbability {
			result, err = w.evalRollout(rollCtx, bc)
		} else {
			result, err = w.pairedRollout(rollCtx, bc)
		}
		if err != nil {
			if rollCtx.Err() != nil {
				// Abandoned: the result is unusable under the new
				// generation, free compute instead of finishing.
				return
			}
			w.logger.Warn("rollout failed, skipping task",
				slog.Uint64("generation", task.Generation),
				slog.Any("error", err))

			continue
		}

		if w.stale(task.Generation) {
			return
		}

		w.submit(ctx, result)
	}

	w.mu.Lock()
	w.cancelRollout = nil
	w.mu.Unlock()
}

// pairedRollout evaluates theta+sigma*eps and theta-sigma*eps for one
// seed-bound direction. The seed, not the perturbation, travels in the
// result.
func (w *Worker) pairedRollout(ctx context.Context, bc es.Broadcast) (es.RolloutResult, error) {
	task := bc.Task
	seed := w.nextSeed(task.BaseSeed)
	eps := es.Perturbation(task.Generation, seed, len(bc.Params.Weights))

	begin := time.Now()

	retPlus, stepsPlus, err := w.env.Rollout(ctx, perturbed(bc.Params.Weights, eps, task.NoiseStd), task.TimestepLimit)
	if err != nil {
		return es.RolloutResult{}, err
	}

	retMinus, stepsMinus, err := w.env.Rollout(ctx, perturbed(bc.Params.Weights, eps, -task.NoiseStd), task.TimestepLimit)
	if err != nil {
		return es.RolloutResult{}, err
	}

	return es.RolloutResult{
		Generation:  task.Generation,
		Seed:        seed,
		WorkerID:    w.id,
		ReturnPlus:  retPlus,
		ReturnMinus: retMinus,
		StepsPlus:   stepsPlus,
		StepsMinus:  stepsMinus,
		ElapsedMS:   time.Since(begin).Milliseconds(),
	}, nil
}

// evalRollout runs the unperturbed parameters for diagnostics. Eval results
// never enter the gradient, and eval episodes run to natural termination:
// the task's timestep limit bounds gradient rollouts only.
func (w *Worker) evalRollout(ctx context.Context, bc es.Broadcast) (es.RolloutResult, error) {
	begin := time.Now()

	ret, steps, err := w.env.Rollout(ctx, bc.Params.Weights, 0)
	if err != nil {
		return es.RolloutResult{}, err
	}

	return es.RolloutResult{
		Generation: bc.Task.Generation,
		WorkerID:   w.id,
		Eval:       true,
		EvalReturn: ret,
		EvalSteps:  steps,
		ElapsedMS:  time.Since(begin).Milliseconds(),
	}, nil
}

// submit retries with bounded exponential backoff. Sustained failure is
// logged and the result dropped: the quota/deadline policy absorbs the
// reduced sample.
func (w *Worker) submit(ctx context.Context, r es.RolloutResult) {
	var err error
	for attempt := 0; attempt < submitRetries; attempt++ {
		if err = w.taskBroker.SubmitResult(ctx, r); err == nil {
			return
		}
		if w.stale(r.Generation) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(submitRetryBackoff << attempt):
		}
	}

	w.logger.Warn("failed to submit result",
		slog.Uint64("generation", r.Generation),
		slog.Int64("seed", r.Seed),
		slog.Any("error", err))
}

func (w *Worker) stale(generation uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.latest != nil && w.latest.Params.Generation > generation
}

func (w *Worker) nextSeed(baseSeed int64) int64 {
	w.counter++
	seed := baseSeed + w.seedOffset + w.counter
	if seed == 0 {
		seed = 1
	}

	return seed
}

func (w *Worker) startHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping heartbeats", slog.String("worker_id", w.id))

			return
		case <-ticker.C:
			err := w.taskBroker.Announce(ctx, es.Registration{
				WorkerID: w.id,
				Name:     w.name,
				Status:   es.StatusAlive,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("failed to publish heartbeat", slog.Any("error", err))
			}
		}
	}
}

func perturbed(weights, eps []float64, sigma float64) []float64 {
	out := make([]float64, len(weights))
	for i := range weights {
		out[i] = weights[i] + sigma*eps[i]
	}

	return out
}
