package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evostrat/evostrat/es"
	"github.com/evostrat/evostrat/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroadcast(generation uint64, rollouts int) es.Broadcast {
	return es.Broadcast{
		Params: es.Params{Generation: generation, Weights: []float64{0.1, 0.2}},
		Task: es.Task{
			Generation:        generation,
			BaseSeed:          int64(generation)<<24 + 1,
			NoiseStd:          0.02,
			RolloutsRequested: rollouts,
		},
	}
}

type resultSink struct {
	mu      sync.Mutex
	results []es.RolloutResult
}

func (s *resultSink) collect(r es.RolloutResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *resultSink) snapshot() []es.RolloutResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]es.RolloutResult(nil), s.results...)
}

func TestWorkerSubmitsRequestedRollouts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.NewInMemory()
	sink := &resultSink{}
	require.NoError(t, b.SubscribeResults(ctx, sink.collect))

	w := New("w1", "crimson-falcon", b, NewSphere(2), slog.New(slog.DiscardHandler))
	go func() {
		_ = w.Run(ctx)
	}()

	// Give the worker time to subscribe before the broadcast lands.
	require.Eventually(t, func() bool {
		return b.PublishGeneration(ctx, testBroadcast(1, 3)) == nil && len(sink.snapshot()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	for _, r := range sink.snapshot() {
		assert.Equal(t, uint64(1), r.Generation)
		assert.Equal(t, "w1", r.WorkerID)
		assert.NotZero(t, r.Seed)
		require.NoError(t, r.Validate())

		// Antithetic evaluation of the sphere objective: both sides are
		// real returns, reconstructable from (generation, seed).
		assert.Less(t, r.ReturnPlus, 0.0)
		assert.Less(t, r.ReturnMinus, 0.0)
	}
}

func TestWorkerSeedsAreUniquePerTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.NewInMemory()
	sink := &resultSink{}
	require.NoError(t, b.SubscribeResults(ctx, sink.collect))

	w := New("w1", "crimson-falcon", b, NewSphere(2), slog.New(slog.DiscardHandler))
	go func() {
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return b.PublishGeneration(ctx, testBroadcast(1, 4)) == nil && len(sink.snapshot()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	seen := make(map[int64]struct{})
	for _, r := range sink.snapshot() {
		_, dup := seen[r.Seed]
		assert.False(t, dup, "seed %d reused within one task", r.Seed)
		seen[r.Seed] = struct{}{}
	}
}

// gateEnv blocks rollouts until released, signalling when the first one
// starts. It lets tests freeze a worker mid-episode.
type gateEnv struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateEnv() *gateEnv {
	return &gateEnv{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *gateEnv) Name() string {
	return "gate"
}

func (e *gateEnv) Rollout(ctx context.Context, _ []float64, _ int) (float64, int, error) {
	e.once.Do(func() { close(e.started) })

	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case <-e.release:
		return 1, 1, nil
	}
}

func TestWorkerAbandonsRolloutOnGenerationAdvance(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.NewInMemory()
	sink := &resultSink{}
	require.NoError(t, b.SubscribeResults(ctx, sink.collect))

	env := newGateEnv()
	w := New("w1", "crimson-falcon", b, env, slog.New(slog.DiscardHandler))
	go func() {
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return b.PublishGeneration(ctx, testBroadcast(1, 1)) == nil
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-env.started:
	case <-time.After(5 * time.Second):
		t.Fatal("rollout never started")
	}

	// A newer generation cancels the in-flight rollout; releasing afterwards
	// lets the worker complete the new task instead.
	require.NoError(t, b.PublishGeneration(ctx, testBroadcast(2, 1)))
	close(env.release)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	for _, r := range sink.snapshot() {
		assert.Equal(t, uint64(2), r.Generation, "no result from the abandoned generation may be submitted")
	}
}

func TestWorkerIgnoresOlderBroadcasts(t *testing.T) {
	w := New("w1", "crimson-falcon", broker.NewInMemory(), NewSphere(2), slog.New(slog.DiscardHandler))

	w.observe(testBroadcast(5, 1))
	w.observe(testBroadcast(3, 1))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, uint64(5), w.latest.Params.Generation, "a worker never regresses to stale parameters")
}

// limitRecordingEnv records the timestep limit passed to every rollout.
type limitRecordingEnv struct {
	mu     sync.Mutex
	limits []int
}

func (e *limitRecordingEnv) Name() string {
	return "recorder"
}

func (e *limitRecordingEnv) Rollout(_ context.Context, _ []float64, limit int) (float64, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = append(e.limits, limit)

	return 1, 1, nil
}

func TestWorkerEvalRolloutRunsUnbounded(t *testing.T) {
	env := &limitRecordingEnv{}
	w := New("w1", "crimson-falcon", broker.NewInMemory(), env, slog.New(slog.DiscardHandler))

	bc := testBroadcast(1, 1)
	bc.Task.TimestepLimit = 100

	_, err := w.pairedRollout(context.Background(), bc)
	require.NoError(t, err)
	_, err = w.evalRollout(context.Background(), bc)
	require.NoError(t, err)

	// Both sides of the pair are cut off at the task limit; the eval episode
	// runs to natural termination.
	assert.Equal(t, []int{100, 100, 0}, env.limits)
}

type flakyEnv struct {
	mu    sync.Mutex
	calls int
}

func (e *flakyEnv) Name() string {
	return "flaky"
}

func (e *flakyEnv) Rollout(_ context.Context, _ []float64, _ int) (float64, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls == 1 {
		return 0, 0, errors.New("simulator crashed")
	}

	return 1, 1, nil
}

func TestWorkerSkipsFailedRollouts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.NewInMemory()
	sink := &resultSink{}
	require.NoError(t, b.SubscribeResults(ctx, sink.collect))

	w := New("w1", "crimson-falcon", b, &flakyEnv{}, slog.New(slog.DiscardHandler))
	go func() {
		_ = w.Run(ctx)
	}()

	// First rollout fails and is skipped; the second still goes out.
	require.Eventually(t, func() bool {
		return b.PublishGeneration(ctx, testBroadcast(1, 2)) == nil && len(sink.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	r := sink.snapshot()[0]
	assert.Equal(t, uint64(1), r.Generation)
	require.NoError(t, r.Validate())
}

func TestWorkerHeartbeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.NewInMemory()

	var (
		mu   sync.Mutex
		regs []es.Registration
	)
	require.NoError(t, b.SubscribeRegistrations(ctx, func(reg es.Registration) {
		mu.Lock()
		defer mu.Unlock()
		regs = append(regs, reg)
	}))

	w := New("w1", "crimson-falcon", b, NewSphere(2), slog.New(slog.DiscardHandler), WithHeartbeat(10*time.Millisecond))
	go func() {
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(regs) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, reg := range regs {
		assert.Equal(t, "w1", reg.WorkerID)
		assert.Equal(t, es.StatusAlive, reg.Status)
	}
}
