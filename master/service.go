package master

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/evostrat/evostrat/es"
	"github.com/evostrat/evostrat/pkg/broker"
	"github.com/evostrat/evostrat/pkg/errors"
	"github.com/evostrat/evostrat/pkg/storage"
)

const (
	publishRetries      = 5
	publishRetryBackoff = 500 * time.Millisecond
)

type service struct {
	cfg           es.Config
	store         *es.Store
	taskBroker    broker.TaskBroker
	workersDB     storage.Storage
	checkpointDir string
	logger        *slog.Logger

	mu        sync.RWMutex
	window    *window
	stats     es.Stats
	collected uint64
	tslimit   int
}

func NewService(cfg es.Config, store *es.Store, taskBroker broker.TaskBroker, workersDB storage.Storage, checkpointDir string, stats es.Stats, logger *slog.Logger) Service {
	if stats.StartedAt.IsZero() {
		stats.StartedAt = time.Now().UTC()
	}

	return &service{
		cfg:           cfg,
		store:         store,
		taskBroker:    taskBroker,
		workersDB:     workersDB,
		checkpointDir: checkpointDir,
		stats:         stats,
		tslimit:       cfg.TimestepLimit,
		logger:        logger,
	}
}

func (svc *service) Run(ctx context.Context) error {
	if err := svc.taskBroker.SubscribeResults(ctx, svc.handleResult(ctx)); err != nil {
		return err
	}
	if err := svc.taskBroker.SubscribeRegistrations(ctx, svc.handleRegistration(ctx)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return svc.terminate(context.WithoutCancel(ctx))
		default:
		}

		generation := svc.store.Generation()
		if svc.cfg.MaxGenerations > 0 && generation >= svc.cfg.MaxGenerations {
			return svc.terminate(ctx)
		}

		if err := svc.runGeneration(ctx, generation); err != nil {
			svc.logger.Error("generation failed", slog.Uint64("generation", generation), slog.Any("error", err))

			return err
		}
	}
}

func (svc *service) runGeneration(ctx context.Context, generation uint64) error {
	params := svc.store.Snapshot()
	task := es.Task{
		Generation:        generation,
		BaseSeed:          int64(generation)<<24 + 1,
		NoiseStd:          svc.cfg.NoiseStd,
		RolloutsRequested: svc.cfg.RolloutsPerTask,
		TimestepLimit:     svc.timestepLimit(),
		EvalProbability:   svc.cfg.EvalProbability,
	}

	w := newWindow(generation, svc.cfg.EpisodesPerGeneration, svc.cfg.TimestepsPerGeneration)
	svc.setWindow(w)

	if err := svc.broadcast(ctx, es.Broadcast{Params: params, Task: task}); err != nil {
		return err
	}
	svc.logger.Info("broadcast generation",
		slog.Uint64("generation", generation),
		slog.Int("dim", len(params.Weights)))

	deadline := time.NewTimer(svc.cfg.CollectDeadline())
	defer deadline.Stop()
	select {
	case <-w.done:
	case <-deadline.C:
		svc.logger.Warn("collect deadline reached, proceeding with partial results",
			slog.Uint64("generation", generation))
	case <-ctx.Done():
		return nil
	}

	results, evalReturns := w.drain()
	episodes, timesteps, duplicates := w.counts()
	svc.setWindow(nil)

	if len(results) == 0 {
		svc.logger.Warn("no results collected, repeating generation", slog.Uint64("generation", generation))

		return nil
	}

	grad, count := es.Aggregate(generation, len(params.Weights), results)

	// Descent direction: negated ascent estimate plus the L2 term, exactly
	// the quantity the optimizer steps along.
	globalGrad := make([]float64, len(grad))
	for i := range grad {
		globalGrad[i] = -grad[i] + svc.cfg.L2Coeff*params.Weights[i]
	}

	next, ratio, err := svc.store.Commit(globalGrad)
	if err != nil {
		return err
	}

	svc.updateStats(results, evalReturns, episodes, timesteps, duplicates, ratio)
	svc.maybeRaiseTimestepLimit(results)

	svc.logger.Info("generation complete",
		slog.Uint64("generation", generation),
		slog.Uint64("next_generation", next.Generation),
		slog.Int("results", len(results)),
		slog.Int("episodes", episodes),
		slog.Int("timesteps", timesteps),
		slog.Int("episodes_aggregated", count),
		slog.Float64("update_ratio", ratio))

	if svc.cfg.SnapshotFrequency > 0 && next.Generation%svc.cfg.SnapshotFrequency == 0 {
		if err := svc.checkpoint(next); err != nil {
			svc.logger.Error("failed to write checkpoint", slog.Any("error", err))
		}
	}

	return nil
}

// broadcast publishes with bounded retry: a transient broker failure must
// not abort the run.
func (svc *service) broadcast(ctx context.Context, bc es.Broadcast) error {
	var err error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if err = svc.taskBroker.PublishGeneration(ctx, bc); err == nil {
			return nil
		}

		svc.logger.Warn("failed to publish generation, retrying",
			slog.Uint64("generation", bc.Task.Generation),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(publishRetryBackoff << attempt):
		}
	}

	return err
}

func (svc *service) handleResult(ctx context.Context) func(es.RolloutResult) {
	return func(r es.RolloutResult) {
		w := svc.currentWindow()
		if w == nil {
			svc.countStale()

			return
		}

		switch w.offer(r) {
		case offerAccepted:
			svc.recordWorkerResult(ctx, r.WorkerID)
		case offerStale:
			svc.countStale()
			svc.logger.Debug("dropped stale result",
				slog.Uint64("generation", r.Generation),
				slog.String("worker_id", r.WorkerID))
		case offerDuplicate:
			svc.logger.Debug("dropped duplicate result",
				slog.Uint64("generation", r.Generation),
				slog.Int64("seed", r.Seed))
		}
	}
}

func (svc *service) terminate(ctx context.Context) error {
	params := svc.store.Snapshot()
	if err := svc.checkpoint(params); err != nil {
		svc.logger.Error("failed to write final checkpoint", slog.Any("error", err))
	}

	svc.logger.Info("terminating", slog.Uint64("generation", params.Generation))

	return svc.taskBroker.Disconnect(ctx)
}

func (svc *service) checkpoint(params es.Params) error {
	svc.mu.RLock()
	stats := svc.stats
	svc.mu.RUnlock()

	path, err := es.SaveCheckpoint(svc.checkpointDir, es.Checkpoint{
		Generation: params.Generation,
		Weights:    params.Weights,
		Optimizer:  svc.store.OptimizerState(),
		Stats:      stats,
	})
	if err != nil {
		return err
	}

	svc.logger.Info("saved checkpoint", slog.String("path", path), slog.Uint64("generation", params.Generation))

	return nil
}

func (svc *service) Status(_ context.Context) (Status, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return Status{
		EnvID:      svc.cfg.EnvID,
		Generation: svc.store.Generation(),
		Stats:      svc.stats,
	}, nil
}

func (svc *service) GetWorker(ctx context.Context, workerID string) (WorkerInfo, error) {
	data, err := svc.workersDB.Get(ctx, workerID)
	if err != nil {
		return WorkerInfo{}, err
	}
	w, ok := data.(WorkerInfo)
	if !ok {
		return WorkerInfo{}, errors.ErrInvalidData
	}
	w.SetAlive()

	return w, nil
}

func (svc *service) ListWorkers(ctx context.Context, offset, limit uint64) (WorkerPage, error) {
	data, total, err := svc.workersDB.List(ctx, offset, limit)
	if err != nil {
		return WorkerPage{}, err
	}
	workers := make([]WorkerInfo, len(data))
	for i := range data {
		w, ok := data[i].(WorkerInfo)
		if !ok {
			return WorkerPage{}, errors.ErrInvalidData
		}
		w.SetAlive()
		workers[i] = w
	}

	return WorkerPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Workers: workers,
	}, nil
}

func (svc *service) setWindow(w *window) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.window = w
}

func (svc *service) currentWindow() *window {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.window
}

func (svc *service) timestepLimit() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.tslimit
}

// maybeRaiseTimestepLimit grows the episode cutoff once the configured
// fraction of gradient rollouts runs into it, so a policy that learns to
// survive longer is not truncated forever.
func (svc *service) maybeRaiseTimestepLimit(results []es.RolloutResult) {
	if !svc.cfg.AdaptiveTimestepLimit() {
		return
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	limit := svc.tslimit
	hits, episodes := 0, 0
	for _, r := range results {
		if r.Eval {
			continue
		}
		episodes += 2
		if r.StepsPlus >= limit {
			hits++
		}
		if r.StepsMinus >= limit {
			hits++
		}
	}
	if episodes == 0 || float64(hits)/float64(episodes) < svc.cfg.TimestepLimitIncrThreshold {
		return
	}

	svc.tslimit = int(svc.cfg.TimestepLimitIncrRatio * float64(limit))
	svc.logger.Info("raised timestep limit",
		slog.Int("old_limit", limit),
		slog.Int("new_limit", svc.tslimit))
}

func (svc *service) countStale() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.stats.StaleResults++
}

func (svc *service) updateStats(results []es.RolloutResult, evalReturns []float64, episodes, timesteps int, duplicates uint64, ratio float64) {
	returns := make([]float64, 0, 2*len(results))
	for _, r := range results {
		returns = append(returns, r.ReturnPlus, r.ReturnMinus)
	}
	mean, std := meanStd(returns)

	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.stats.EpisodesSoFar += uint64(episodes)
	svc.stats.TimestepsSoFar += uint64(timesteps)
	svc.stats.ReturnMean = mean
	svc.stats.ReturnStd = std
	svc.stats.DuplicateResults += duplicates
	svc.stats.UpdateRatio = ratio
	if len(evalReturns) > 0 {
		evalMean, _ := meanStd(evalReturns)
		svc.stats.EvalReturnMean = evalMean
		svc.stats.EvalEpisodes += uint64(len(evalReturns))
	}
	svc.collected += uint64(len(results))
}

func meanStd(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for _, v := range x {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(x)))

	return mean, std
}
