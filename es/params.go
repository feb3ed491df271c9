package es

import (
	"fmt"
	"sync"
)

// Params is an immutable, versioned snapshot of the policy weights. A new
// generation always produces a new vector, never an in-place mutation
// visible to readers.
type Params struct {
	Generation uint64    `json:"generation"`
	Weights    []float64 `json:"weights"`
}

func (p Params) Clone() Params {
	w := make([]float64, len(p.Weights))
	copy(w, p.Weights)

	return Params{Generation: p.Generation, Weights: w}
}

// Store holds the canonical parameter vector and its optimizer. It is the
// single source of truth: only the master holds a handle to it, every other
// component receives snapshots. Mutation is single-writer, so consistency
// needs version tagging rather than distributed coordination.
type Store struct {
	mu     sync.RWMutex
	params Params
	opt    Optimizer
}

func NewStore(weights []float64, opt Optimizer) *Store {
	w := make([]float64, len(weights))
	copy(w, weights)

	return &Store{
		params: Params{Generation: 0, Weights: w},
		opt:    opt,
	}
}

// NewStoreAt resumes a store at a committed generation, as recovered from a
// checkpoint.
func NewStoreAt(p Params, opt Optimizer) *Store {
	return &Store{params: p.Clone(), opt: opt}
}

func (s *Store) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.params.Clone()
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.params.Generation
}

func (s *Store) OptimizerState() OptimizerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.opt.State()
}

// Commit applies one optimizer step and advances the generation by exactly
// one. The parameter vector and the optimizer state move together: no
// observer ever sees one without the other. Returns the new snapshot and the
// update ratio |step|/|theta|.
func (s *Store) Commit(grad []float64) (Params, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(grad) != len(s.params.Weights) {
		return Params{}, 0, fmt.Errorf("gradient dimensionality %d does not match parameter dimensionality %d", len(grad), len(s.params.Weights))
	}

	next, ratio := s.opt.Step(s.params.Weights, grad)
	s.params = Params{
		Generation: s.params.Generation + 1,
		Weights:    next,
	}

	return s.params.Clone(), ratio, nil
}
