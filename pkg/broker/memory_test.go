package broker

import (
	"context"
	"testing"

	"github.com/evostrat/evostrat/es"
	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroadcast(generation uint64) es.Broadcast {
	return es.Broadcast{
		Params: es.Params{Generation: generation, Weights: []float64{1, 2}},
		Task: es.Task{
			Generation:        generation,
			BaseSeed:          int64(generation)<<24 + 1,
			NoiseStd:          0.02,
			RolloutsRequested: 1,
		},
	}
}

func TestInMemoryLateJoin(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()

	require.NoError(t, b.PublishGeneration(ctx, testBroadcast(1)))
	require.NoError(t, b.PublishGeneration(ctx, testBroadcast(2)))

	var got []uint64
	require.NoError(t, b.SubscribeGenerations(ctx, func(bc es.Broadcast) {
		got = append(got, bc.Params.Generation)
	}))

	assert.Equal(t, []uint64{2}, got, "a late subscriber sees only the latest broadcast")
}

func TestInMemoryFanout(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()

	var first, second []uint64
	require.NoError(t, b.SubscribeGenerations(ctx, func(bc es.Broadcast) {
		first = append(first, bc.Params.Generation)
	}))
	require.NoError(t, b.SubscribeGenerations(ctx, func(bc es.Broadcast) {
		second = append(second, bc.Params.Generation)
	}))

	require.NoError(t, b.PublishGeneration(ctx, testBroadcast(1)))

	assert.Equal(t, []uint64{1}, first)
	assert.Equal(t, []uint64{1}, second)
}

func TestInMemoryPartition(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()

	var results int
	require.NoError(t, b.SubscribeResults(ctx, func(es.RolloutResult) {
		results++
	}))

	b.SetDown(true)
	assert.Error(t, b.PublishGeneration(ctx, testBroadcast(1)))
	assert.Error(t, b.SubmitResult(ctx, es.RolloutResult{Generation: 1, Seed: 1, WorkerID: "w1"}))

	b.SetDown(false)
	require.NoError(t, b.SubmitResult(ctx, es.RolloutResult{Generation: 1, Seed: 1, WorkerID: "w1"}))
	assert.Equal(t, 1, results)
}

func TestInMemoryRejectsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()

	err := b.PublishGeneration(ctx, es.Broadcast{
		Params: es.Params{Generation: 1},
		Task:   es.Task{Generation: 2, NoiseStd: 0.02, RolloutsRequested: 1},
	})
	assert.ErrorIs(t, err, pkgerrors.ErrMalformedMessage)

	err = b.SubmitResult(ctx, es.RolloutResult{Generation: 1, WorkerID: "w1"})
	assert.ErrorIs(t, err, pkgerrors.ErrMalformedMessage, "a non-eval result without a seed is rejected")

	err = b.Announce(ctx, es.Registration{Status: es.StatusAlive})
	assert.ErrorIs(t, err, pkgerrors.ErrMalformedMessage)
}

func TestInMemoryRegistrations(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()

	var regs []es.Registration
	require.NoError(t, b.SubscribeRegistrations(ctx, func(reg es.Registration) {
		regs = append(regs, reg)
	}))

	require.NoError(t, b.Announce(ctx, es.Registration{WorkerID: "w1", Status: es.StatusAlive}))
	require.NoError(t, b.Announce(ctx, es.Registration{WorkerID: "w1", Status: es.StatusOffline}))

	require.Len(t, regs, 2)
	assert.Equal(t, es.StatusAlive, regs[0].Status)
	assert.Equal(t, es.StatusOffline, regs[1].Status)
}
