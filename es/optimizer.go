package es

import (
	"errors"
	"fmt"
	"math"

	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
)

// Optimizer applies one descent step per generation. Implementations keep
// moment accumulators sized to the parameter dimensionality.
type Optimizer interface {
	// Step returns the updated weights and the update ratio |step|/|theta|.
	Step(theta, grad []float64) ([]float64, float64)
	State() OptimizerState
	Restore(st OptimizerState) error
}

// OptimizerState is the serializable accumulator state, persisted alongside
// the parameters so a run can resume exactly at its last committed
// generation.
type OptimizerState struct {
	T uint64    `json:"t"`
	M []float64 `json:"m,omitempty"`
	V []float64 `json:"v,omitempty"`
}

func NewOptimizer(dim int, cfg OptimizerConfig) (Optimizer, error) {
	switch cfg.Type {
	case OptimizerSGD:
		return &SGD{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			v:            make([]float64, dim),
		}, nil
	case OptimizerAdam:
		return &Adam{
			LearningRate: cfg.LearningRate,
			Beta1:        cfg.Beta1,
			Beta2:        cfg.Beta2,
			Epsilon:      cfg.Epsilon,
			m:            make([]float64, dim),
			v:            make([]float64, dim),
		}, nil
	default:
		return nil, errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("unknown optimizer type %q", cfg.Type))
	}
}

type SGD struct {
	LearningRate float64
	Momentum     float64

	v []float64
	t uint64
}

func (o *SGD) Step(theta, grad []float64) ([]float64, float64) {
	o.t++
	next := make([]float64, len(theta))
	var stepSq, thetaSq float64
	for i := range theta {
		o.v[i] = o.Momentum*o.v[i] + (1-o.Momentum)*grad[i]
		step := -o.LearningRate * o.v[i]
		next[i] = theta[i] + step
		stepSq += step * step
		thetaSq += theta[i] * theta[i]
	}

	return next, updateRatio(stepSq, thetaSq)
}

func (o *SGD) State() OptimizerState {
	v := make([]float64, len(o.v))
	copy(v, o.v)

	return OptimizerState{T: o.t, V: v}
}

func (o *SGD) Restore(st OptimizerState) error {
	if len(st.V) != len(o.v) {
		return errors.Join(pkgerrors.ErrCorruptState, fmt.Errorf("sgd momentum dimensionality %d does not match %d", len(st.V), len(o.v)))
	}
	o.t = st.T
	copy(o.v, st.V)

	return nil
}

type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m []float64
	v []float64
	t uint64
}

func (o *Adam) Step(theta, grad []float64) ([]float64, float64) {
	o.t++
	a := o.LearningRate * math.Sqrt(1-math.Pow(o.Beta2, float64(o.t))) / (1 - math.Pow(o.Beta1, float64(o.t)))

	next := make([]float64, len(theta))
	var stepSq, thetaSq float64
	for i := range theta {
		o.m[i] = o.Beta1*o.m[i] + (1-o.Beta1)*grad[i]
		o.v[i] = o.Beta2*o.v[i] + (1-o.Beta2)*grad[i]*grad[i]
		step := -a * o.m[i] / (math.Sqrt(o.v[i]) + o.Epsilon)
		next[i] = theta[i] + step
		stepSq += step * step
		thetaSq += theta[i] * theta[i]
	}

	return next, updateRatio(stepSq, thetaSq)
}

func (o *Adam) State() OptimizerState {
	m := make([]float64, len(o.m))
	copy(m, o.m)
	v := make([]float64, len(o.v))
	copy(v, o.v)

	return OptimizerState{T: o.t, M: m, V: v}
}

func (o *Adam) Restore(st OptimizerState) error {
	if len(st.M) != len(o.m) || len(st.V) != len(o.v) {
		return errors.Join(pkgerrors.ErrCorruptState, fmt.Errorf("adam moment dimensionality (%d, %d) does not match %d", len(st.M), len(st.V), len(o.m)))
	}
	o.t = st.T
	copy(o.m, st.M)
	copy(o.v, st.V)

	return nil
}

func updateRatio(stepSq, thetaSq float64) float64 {
	if thetaSq == 0 {
		return 0
	}

	return math.Sqrt(stepSq) / math.Sqrt(thetaSq)
}
