package es

import (
	"errors"
	"fmt"
	"time"
)

// Task fully determines, together with the broadcast parameters, every
// perturbation a worker can generate for one generation. Tasks are
// idempotent: re-deriving a perturbation from the same (generation, seed)
// pair always yields the same vector.
type Task struct {
	Generation        uint64  `json:"generation"`
	BaseSeed          int64   `json:"base_seed"`
	NoiseStd          float64 `json:"noise_std"`
	RolloutsRequested int     `json:"rollouts_requested"`
	TimestepLimit     int     `json:"timestep_limit"`
	EvalProbability   float64 `json:"eval_probability"`
}

func (t Task) Validate() error {
	if t.NoiseStd <= 0 {
		return fmt.Errorf("task validation: noise_std must be positive, got %g", t.NoiseStd)
	}
	if t.RolloutsRequested <= 0 {
		return fmt.Errorf("task validation: rollouts_requested must be positive, got %d", t.RolloutsRequested)
	}
	if t.EvalProbability < 0 || t.EvalProbability >= 1 {
		return fmt.Errorf("task validation: eval_probability out of range: %g", t.EvalProbability)
	}

	return nil
}

// RolloutResult carries the scalar returns of one antithetic pair. The seed,
// not the perturbation vector, is the unit of network transfer; the master
// regenerates the perturbation from (generation, seed).
//
// Eval results are noiseless diagnostic rollouts: Seed is zero, only
// EvalReturn/EvalSteps are meaningful and they never enter the gradient.
type RolloutResult struct {
	Generation  uint64  `json:"generation"`
	Seed        int64   `json:"seed"`
	WorkerID    string  `json:"worker_id"`
	ReturnPlus  float64 `json:"return_plus"`
	ReturnMinus float64 `json:"return_minus"`
	StepsPlus   int     `json:"steps_plus"`
	StepsMinus  int     `json:"steps_minus"`
	Eval        bool    `json:"eval,omitempty"`
	EvalReturn  float64 `json:"eval_return,omitempty"`
	EvalSteps   int     `json:"eval_steps,omitempty"`
	ElapsedMS   int64   `json:"elapsed_ms"`
}

func (r RolloutResult) Validate() error {
	if r.WorkerID == "" {
		return errors.New("result validation: worker_id is required but missing")
	}
	if r.Eval {
		if r.EvalSteps < 0 {
			return fmt.Errorf("result validation: invalid eval_steps %d", r.EvalSteps)
		}

		return nil
	}
	if r.Seed == 0 {
		return errors.New("result validation: seed is required for rollout results")
	}
	if r.StepsPlus < 0 || r.StepsMinus < 0 {
		return fmt.Errorf("result validation: invalid step counts (%d, %d)", r.StepsPlus, r.StepsMinus)
	}

	return nil
}

func (r RolloutResult) Episodes() int {
	if r.Eval {
		return 1
	}

	return 2
}

func (r RolloutResult) Timesteps() int {
	if r.Eval {
		return r.EvalSteps
	}

	return r.StepsPlus + r.StepsMinus
}

// Registration is ephemeral worker identity, used only for liveness and
// straggler accounting, never for correctness.
type Registration struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

const (
	StatusAlive   = "alive"
	StatusOffline = "offline"
)

func (reg Registration) Validate() error {
	if reg.WorkerID == "" {
		return errors.New("registration validation: worker_id is required but missing")
	}

	return nil
}

// Broadcast is the value published on the generation channel: the immutable
// parameter snapshot plus the task spec for that generation. Late
// subscribers see only the latest broadcast.
type Broadcast struct {
	Params Params `json:"params"`
	Task   Task   `json:"task"`
}

func (b Broadcast) Validate() error {
	if len(b.Params.Weights) == 0 {
		return errors.New("broadcast validation: empty parameter vector")
	}
	if b.Params.Generation != b.Task.Generation {
		return fmt.Errorf("broadcast validation: params generation %d does not match task generation %d", b.Params.Generation, b.Task.Generation)
	}

	return b.Task.Validate()
}

// Stats are run-level counters carried across generations and persisted in
// checkpoints.
type Stats struct {
	EpisodesSoFar    uint64    `json:"episodes_so_far"`
	TimestepsSoFar   uint64    `json:"timesteps_so_far"`
	ReturnMean       float64   `json:"return_mean"`
	ReturnStd        float64   `json:"return_std"`
	EvalReturnMean   float64   `json:"eval_return_mean"`
	EvalEpisodes     uint64    `json:"eval_episodes"`
	StaleResults     uint64    `json:"stale_results"`
	DuplicateResults uint64    `json:"duplicate_results"`
	UpdateRatio      float64   `json:"update_ratio"`
	StartedAt        time.Time `json:"started_at"`
}
