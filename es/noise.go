package es

import "math/rand"

// Perturbation derives the unit-gaussian direction for a (generation, seed)
// pair. It is a pure function: the generator is constructed fresh from the
// pair, so the master can reconstruct any worker's perturbation from the
// seed alone and no process-global random state can leak in.
func Perturbation(generation uint64, seed int64, dim int) []float64 {
	rng := rand.New(rand.NewSource(mix(generation, seed)))
	eps := make([]float64, dim)
	for i := range eps {
		eps[i] = rng.NormFloat64()
	}

	return eps
}

// mix folds the generation into the seed with a splitmix64 round so that the
// same seed yields unrelated directions across generations.
func mix(generation uint64, seed int64) int64 {
	z := uint64(seed) + generation*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB

	return int64(z ^ (z >> 31))
}
