package es

import (
	"errors"
	"fmt"
	"os"
	"time"

	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
	"github.com/pelletier/go-toml"
)

const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

type OptimizerConfig struct {
	Type         string  `toml:"type" json:"type"`
	LearningRate float64 `toml:"learning_rate" json:"learning_rate"`
	Momentum     float64 `toml:"momentum" json:"momentum"`
	Beta1        float64 `toml:"beta1" json:"beta1"`
	Beta2        float64 `toml:"beta2" json:"beta2"`
	Epsilon      float64 `toml:"epsilon" json:"epsilon"`
}

// Config is the immutable set of run hyperparameters, loaded once per run.
type Config struct {
	EnvID                      string          `toml:"env_id" json:"env_id"`
	PolicyDim                  int             `toml:"policy_dim" json:"policy_dim"`
	NoiseStd                   float64         `toml:"noise_std" json:"noise_std"`
	L2Coeff                    float64         `toml:"l2_coeff" json:"l2_coeff"`
	EpisodesPerGeneration      int             `toml:"episodes_per_generation" json:"episodes_per_generation"`
	TimestepsPerGeneration     int             `toml:"timesteps_per_generation" json:"timesteps_per_generation"`
	RolloutsPerTask            int             `toml:"rollouts_per_task" json:"rollouts_per_task"`
	TimestepLimit              int             `toml:"timestep_limit" json:"timestep_limit"`
	TimestepLimitIncrThreshold float64         `toml:"timestep_limit_incr_threshold" json:"timestep_limit_incr_threshold"`
	TimestepLimitIncrRatio     float64         `toml:"timestep_limit_incr_ratio" json:"timestep_limit_incr_ratio"`
	MaxGenerations             uint64          `toml:"max_generations" json:"max_generations"`
	CollectDeadlineSeconds     float64         `toml:"collect_deadline_seconds" json:"collect_deadline_seconds"`
	SnapshotFrequency          uint64          `toml:"snapshot_frequency" json:"snapshot_frequency"`
	EvalProbability            float64         `toml:"eval_probability" json:"eval_probability"`
	Optimizer                  OptimizerConfig `toml:"optimizer" json:"optimizer"`
}

func DefaultConfig() Config {
	return Config{
		NoiseStd:               0.02,
		L2Coeff:                0.005,
		RolloutsPerTask:        1,
		CollectDeadlineSeconds: 60,
		SnapshotFrequency:      20,
		Optimizer: OptimizerConfig{
			Type:         OptimizerAdam,
			LearningRate: 0.01,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
		},
	}
}

// LoadConfig reads and validates an experiment document. Any failure here is
// fatal to the caller: there is no run without a valid configuration.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Join(pkgerrors.ErrInvalidConfig, err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Join(pkgerrors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.EnvID == "" {
		return errors.Join(pkgerrors.ErrInvalidConfig, errors.New("env_id is required"))
	}
	if c.PolicyDim <= 0 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("policy_dim must be positive, got %d", c.PolicyDim))
	}
	if c.NoiseStd <= 0 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("noise_std must be positive, got %g", c.NoiseStd))
	}
	if c.EpisodesPerGeneration <= 0 && c.TimestepsPerGeneration <= 0 {
		return errors.Join(pkgerrors.ErrInvalidConfig, errors.New("at least one of episodes_per_generation and timesteps_per_generation must be positive"))
	}
	if c.RolloutsPerTask <= 0 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("rollouts_per_task must be positive, got %d", c.RolloutsPerTask))
	}
	if c.CollectDeadlineSeconds <= 0 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("collect_deadline_seconds must be positive, got %g", c.CollectDeadlineSeconds))
	}
	if c.EvalProbability < 0 || c.EvalProbability >= 1 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("eval_probability must be in [0, 1), got %g", c.EvalProbability))
	}
	if c.TimestepLimitIncrThreshold < 0 || c.TimestepLimitIncrThreshold > 1 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("timestep_limit_incr_threshold must be in [0, 1], got %g", c.TimestepLimitIncrThreshold))
	}
	if c.TimestepLimitIncrThreshold > 0 {
		if c.TimestepLimit <= 0 {
			return errors.Join(pkgerrors.ErrInvalidConfig, errors.New("timestep_limit_incr_threshold requires a positive timestep_limit"))
		}
		if c.TimestepLimitIncrRatio <= 1 {
			return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("timestep_limit_incr_ratio must be greater than 1, got %g", c.TimestepLimitIncrRatio))
		}
	}
	switch c.Optimizer.Type {
	case OptimizerSGD, OptimizerAdam:
	default:
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("unknown optimizer type %q", c.Optimizer.Type))
	}
	if c.Optimizer.LearningRate <= 0 {
		return errors.Join(pkgerrors.ErrInvalidConfig, fmt.Errorf("learning_rate must be positive, got %g", c.Optimizer.LearningRate))
	}

	return nil
}

// CollectDeadline bounds generation latency against the slowest worker. The
// deadline always wins over the episode/timestep quotas.
func (c Config) CollectDeadline() time.Duration {
	return time.Duration(c.CollectDeadlineSeconds * float64(time.Second))
}

// AdaptiveTimestepLimit reports whether the episode cutoff grows once a
// configured fraction of rollouts hit it.
func (c Config) AdaptiveTimestepLimit() bool {
	return c.TimestepLimit > 0 && c.TimestepLimitIncrThreshold > 0
}
