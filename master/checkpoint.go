package master

import (
	"errors"
	"log/slog"
	"math/rand"

	"github.com/evostrat/evostrat/es"
	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
)

const initStd = 0.01

// Bootstrap builds the parameter store for a run: resumed from the latest
// checkpoint in dir when one exists, otherwise freshly initialized at
// generation zero. A present-but-unreadable checkpoint is fatal — corrupted
// optimization state has no recovery path.
func Bootstrap(cfg es.Config, dir string, logger *slog.Logger) (*es.Store, es.Stats, error) {
	cp, err := es.LatestCheckpoint(dir)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		opt, err := es.NewOptimizer(cfg.PolicyDim, cfg.Optimizer)
		if err != nil {
			return nil, es.Stats{}, err
		}

		logger.Info("initializing fresh parameters", slog.Int("dim", cfg.PolicyDim))

		return es.NewStore(initialWeights(cfg), opt), es.Stats{}, nil
	case err != nil:
		return nil, es.Stats{}, err
	}

	if len(cp.Weights) != cfg.PolicyDim {
		return nil, es.Stats{}, errors.Join(pkgerrors.ErrCorruptState,
			errors.New("checkpoint dimensionality does not match the configured policy"))
	}

	opt, err := es.NewOptimizer(cfg.PolicyDim, cfg.Optimizer)
	if err != nil {
		return nil, es.Stats{}, err
	}
	if err := opt.Restore(cp.Optimizer); err != nil {
		return nil, es.Stats{}, err
	}

	logger.Info("resuming from checkpoint", slog.Uint64("generation", cp.Generation))

	store := es.NewStoreAt(es.Params{Generation: cp.Generation, Weights: cp.Weights}, opt)

	return store, cp.Stats, nil
}

// initialWeights seeds generation zero from a fixed source so independent
// masters given the same configuration start from the same vector.
func initialWeights(cfg es.Config) []float64 {
	rng := rand.New(rand.NewSource(int64(len(cfg.EnvID)) + 1))
	w := make([]float64, cfg.PolicyDim)
	for i := range w {
		w[i] = rng.NormFloat64() * initStd
	}

	return w
}
