package master

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/evostrat/evostrat/es"
	"github.com/evostrat/evostrat/pkg/broker"
	"github.com/evostrat/evostrat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() es.Config {
	cfg := es.DefaultConfig()
	cfg.EnvID = "sphere-v1"
	cfg.PolicyDim = 4
	cfg.EpisodesPerGeneration = 4
	cfg.RolloutsPerTask = 2
	cfg.MaxGenerations = 3
	cfg.CollectDeadlineSeconds = 5
	cfg.SnapshotFrequency = 2

	return cfg
}

// echoWorker answers every broadcast synchronously with the requested number
// of antithetic pairs, the way a fleet of workers would over the wire.
func echoWorker(ctx context.Context, t *testing.T, b *broker.InMemory) {
	t.Helper()

	err := b.SubscribeGenerations(ctx, func(bc es.Broadcast) {
		for i := 0; i < bc.Task.RolloutsRequested; i++ {
			seed := bc.Task.BaseSeed + int64(i)
			eps := es.Perturbation(bc.Task.Generation, seed, len(bc.Params.Weights))

			submitErr := b.SubmitResult(ctx, es.RolloutResult{
				Generation:  bc.Task.Generation,
				Seed:        seed,
				WorkerID:    "echo-worker",
				ReturnPlus:  eps[0],
				ReturnMinus: -eps[0],
				StepsPlus:   1,
				StepsMinus:  1,
			})
			require.NoError(t, submitErr)
		}
	})
	require.NoError(t, err)
}

func TestServiceRunCompletesConfiguredGenerations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, dir, logger)
	require.NoError(t, err)

	b := broker.NewInMemory()
	echoWorker(ctx, t, b)

	svc := NewService(cfg, store, b, storage.NewInMemoryStorage(), dir, stats, logger)

	require.NoError(t, svc.Run(ctx))

	status, err := svc.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), status.Generation)
	assert.Equal(t, uint64(12), status.Stats.EpisodesSoFar)
	assert.Equal(t, uint64(12), status.Stats.TimestepsSoFar)
	assert.Greater(t, status.Stats.UpdateRatio, 0.0)

	// Snapshot frequency 2 plus the final checkpoint at termination.
	cp, err := es.LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cp.Generation)
	assert.Len(t, cp.Weights, cfg.PolicyDim)
}

func TestServiceResumesFromCheckpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, dir, logger)
	require.NoError(t, err)

	b := broker.NewInMemory()
	echoWorker(ctx, t, b)
	require.NoError(t, NewService(cfg, store, b, storage.NewInMemoryStorage(), dir, stats, logger).Run(ctx))

	// A second bootstrap must pick up at the committed generation, so the run
	// is already complete.
	resumed, resumedStats, err := Bootstrap(cfg, dir, logger)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), resumed.Generation())
	assert.Equal(t, uint64(12), resumedStats.EpisodesSoFar)

	b2 := broker.NewInMemory()
	require.NoError(t, NewService(cfg, resumed, b2, storage.NewInMemoryStorage(), dir, resumedStats, logger).Run(ctx))
	assert.Equal(t, uint64(3), resumed.Generation())
}

func TestServiceCountsStaleResults(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, t.TempDir(), logger)
	require.NoError(t, err)

	svc := NewService(cfg, store, broker.NewInMemory(), storage.NewInMemoryStorage(), t.TempDir(), stats, logger).(*service)

	// No window open: every result is stale and silently dropped.
	svc.handleResult(ctx)(es.RolloutResult{Generation: 0, Seed: 1, WorkerID: "w1"})
	svc.handleResult(ctx)(es.RolloutResult{Generation: 7, Seed: 2, WorkerID: "w1"})

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status.Stats.StaleResults)
}

func TestServiceWorkerRegistry(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, t.TempDir(), logger)
	require.NoError(t, err)

	svc := NewService(cfg, store, broker.NewInMemory(), storage.NewInMemoryStorage(), t.TempDir(), stats, logger).(*service)

	svc.handleRegistration(ctx)(es.Registration{WorkerID: "w1", Name: "crimson-falcon", Status: es.StatusAlive})
	svc.handleRegistration(ctx)(es.Registration{WorkerID: "w2", Name: "quiet-otter", Status: es.StatusAlive})
	svc.handleRegistration(ctx)(es.Registration{WorkerID: "w1", Name: "crimson-falcon", Status: es.StatusAlive})

	w, err := svc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, w.Alive)
	assert.Len(t, w.AliveHistory, 2)

	svc.handleRegistration(ctx)(es.Registration{WorkerID: "w2", Name: "quiet-otter", Status: es.StatusOffline})
	w, err = svc.GetWorker(ctx, "w2")
	require.NoError(t, err)
	assert.True(t, w.Alive, "a recent heartbeat keeps the worker alive despite the offline flag")

	page, err := svc.ListWorkers(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)
	assert.Len(t, page.Workers, 2)
}

func TestServiceRaisesTimestepLimit(t *testing.T) {
	cfg := testConfig()
	cfg.TimestepLimit = 10
	cfg.TimestepLimitIncrThreshold = 0.5
	cfg.TimestepLimitIncrRatio = 2
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, t.TempDir(), logger)
	require.NoError(t, err)

	svc := NewService(cfg, store, broker.NewInMemory(), storage.NewInMemoryStorage(), t.TempDir(), stats, logger).(*service)
	require.Equal(t, 10, svc.timestepLimit())

	// Half the episodes below the limit: not enough to raise it.
	svc.maybeRaiseTimestepLimit([]es.RolloutResult{
		pair(0, 1, 10, 3),
		pair(0, 2, 4, 5),
	})
	assert.Equal(t, 10, svc.timestepLimit())

	// Half the episodes hit the limit: threshold met, limit doubles.
	svc.maybeRaiseTimestepLimit([]es.RolloutResult{
		pair(0, 3, 10, 10),
		pair(0, 4, 3, 4),
	})
	assert.Equal(t, 20, svc.timestepLimit())
}

func TestServiceKeepsStaticTimestepLimit(t *testing.T) {
	cfg := testConfig()
	cfg.TimestepLimit = 10
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, t.TempDir(), logger)
	require.NoError(t, err)

	svc := NewService(cfg, store, broker.NewInMemory(), storage.NewInMemoryStorage(), t.TempDir(), stats, logger).(*service)

	svc.maybeRaiseTimestepLimit([]es.RolloutResult{pair(0, 1, 10, 10)})
	assert.Equal(t, 10, svc.timestepLimit())
}

func TestServiceRecordsWorkerResults(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	logger := slog.New(slog.DiscardHandler)

	store, stats, err := Bootstrap(cfg, t.TempDir(), logger)
	require.NoError(t, err)

	svc := NewService(cfg, store, broker.NewInMemory(), storage.NewInMemoryStorage(), t.TempDir(), stats, logger).(*service)

	svc.handleRegistration(ctx)(es.Registration{WorkerID: "w1", Name: "crimson-falcon", Status: es.StatusAlive})

	svc.setWindow(newWindow(0, 100, 0))
	svc.handleResult(ctx)(es.RolloutResult{Generation: 0, Seed: 5, WorkerID: "w1", StepsPlus: 1, StepsMinus: 1})

	w, err := svc.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), w.Results)
}
