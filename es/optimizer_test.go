package es

import (
	"math"
	"testing"

	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptimizerUnknownType(t *testing.T) {
	_, err := NewOptimizer(4, OptimizerConfig{Type: "rmsprop", LearningRate: 0.1})

	assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig)
}

func TestSGDStep(t *testing.T) {
	opt, err := NewOptimizer(2, OptimizerConfig{Type: OptimizerSGD, LearningRate: 0.5})
	require.NoError(t, err)

	next, ratio := opt.Step([]float64{1, 1}, []float64{2, -2})

	assert.InDelta(t, 0.0, next[0], 1e-12)
	assert.InDelta(t, 2.0, next[1], 1e-12)
	assert.InDelta(t, 1.0, ratio, 1e-12)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	opt, err := NewOptimizer(1, OptimizerConfig{Type: OptimizerSGD, LearningRate: 1, Momentum: 0.5})
	require.NoError(t, err)

	// First step: v = 0.5*g, second step with g=0 still moves on momentum.
	next, _ := opt.Step([]float64{0}, []float64{1})
	assert.InDelta(t, -0.5, next[0], 1e-12)

	next, _ = opt.Step(next, []float64{0})
	assert.InDelta(t, -0.75, next[0], 1e-12)
}

func TestAdamFirstStepBiasCorrection(t *testing.T) {
	cfg := OptimizerConfig{
		Type:         OptimizerAdam,
		LearningRate: 0.1,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
	opt, err := NewOptimizer(1, cfg)
	require.NoError(t, err)

	grad := []float64{0.5}
	next, _ := opt.Step([]float64{1}, grad)

	a := cfg.LearningRate * math.Sqrt(1-cfg.Beta2) / (1 - cfg.Beta1)
	m := (1 - cfg.Beta1) * grad[0]
	v := (1 - cfg.Beta2) * grad[0] * grad[0]
	expected := 1 - a*m/(math.Sqrt(v)+cfg.Epsilon)

	assert.InDelta(t, expected, next[0], 1e-12)
}

func TestAdamStateRestoreRoundtrip(t *testing.T) {
	cfg := OptimizerConfig{Type: OptimizerAdam, LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}

	opt, err := NewOptimizer(3, cfg)
	require.NoError(t, err)

	theta := []float64{1, 2, 3}
	for i := 0; i < 5; i++ {
		theta, _ = opt.Step(theta, []float64{0.1, -0.2, 0.3})
	}

	resumed, err := NewOptimizer(3, cfg)
	require.NoError(t, err)
	require.NoError(t, resumed.Restore(opt.State()))

	grad := []float64{0.05, 0.05, 0.05}
	a, _ := opt.Step(append([]float64(nil), theta...), grad)
	b, _ := resumed.Step(append([]float64(nil), theta...), grad)

	assert.Equal(t, a, b, "a restored optimizer must continue the exact trajectory")
}

func TestRestoreDimensionMismatch(t *testing.T) {
	cfg := OptimizerConfig{Type: OptimizerAdam, LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}

	opt, err := NewOptimizer(3, cfg)
	require.NoError(t, err)

	err = opt.Restore(OptimizerState{T: 1, M: []float64{0}, V: []float64{0}})
	assert.ErrorIs(t, err, pkgerrors.ErrCorruptState)

	sgd, err := NewOptimizer(3, OptimizerConfig{Type: OptimizerSGD, LearningRate: 0.01})
	require.NoError(t, err)

	err = sgd.Restore(OptimizerState{T: 1, V: []float64{0}})
	assert.ErrorIs(t, err, pkgerrors.ErrCorruptState)
}
