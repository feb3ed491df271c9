package worker

import (
	"context"
	"fmt"
)

// Environment is the reward-producing simulator boundary. Implementations
// evaluate one episode of the policy described by weights and report the
// scalar episode return and the number of timesteps consumed. A timestep
// limit of zero or less means the episode runs to natural termination.
// Rollout must honor ctx: the worker cancels it when the generation advances
// mid-episode.
type Environment interface {
	Name() string
	Rollout(ctx context.Context, weights []float64, timestepLimit int) (ret float64, steps int, err error)
}

// Sphere is a deterministic synthetic environment: the return is the
// negative squared distance of the weights from a fixed target, so the
// optimum is known and improvement is easy to verify. Used by tests and
// smoke runs.
type Sphere struct {
	Target []float64
}

func NewSphere(dim int) *Sphere {
	return &Sphere{Target: make([]float64, dim)}
}

func (e *Sphere) Name() string {
	return "sphere"
}

func (e *Sphere) Rollout(ctx context.Context, weights []float64, _ int) (float64, int, error) {
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	default:
	}

	if len(weights) != len(e.Target) {
		return 0, 0, fmt.Errorf("sphere environment expects %d weights, got %d", len(e.Target), len(weights))
	}

	var d float64
	for i, w := range weights {
		diff := w - e.Target[i]
		d += diff * diff
	}

	return -d, 1, nil
}
