package es

import "sort"

// Ranks returns the rank of every element in [0, len(x)), ties broken by
// position.
func Ranks(x []float64) []int {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]int, len(x))
	for r, i := range idx {
		ranks[i] = r
	}

	return ranks
}

// CenteredRanks maps raw, unbounded returns onto [-0.5, 0.5]. The rank
// transform makes the fitness signal robust to reward outliers.
func CenteredRanks(x []float64) []float64 {
	y := make([]float64, len(x))
	if len(x) < 2 {
		return y
	}

	for i, r := range Ranks(x) {
		y[i] = float64(r)/float64(len(x)-1) - 0.5
	}

	return y
}

// Aggregate computes the Monte Carlo gradient estimate for one generation:
// returns are rank-transformed jointly across both sides of every antithetic
// pair, each pair is weighted by the difference of its plus/minus fitness,
// and the perturbation direction is regenerated from (generation, seed) —
// it is never transmitted. Results must already be deduplicated; eval
// results are skipped. The returned count is the number of episodes summed.
func Aggregate(generation uint64, dim int, results []RolloutResult) ([]float64, int) {
	pairs := make([]RolloutResult, 0, len(results))
	returns := make([]float64, 0, 2*len(results))
	for _, r := range results {
		if r.Eval {
			continue
		}
		pairs = append(pairs, r)
		returns = append(returns, r.ReturnPlus, r.ReturnMinus)
	}

	grad := make([]float64, dim)
	if len(pairs) == 0 {
		return grad, 0
	}

	fitness := CenteredRanks(returns)
	for i, r := range pairs {
		w := fitness[2*i] - fitness[2*i+1]
		eps := Perturbation(generation, r.Seed, dim)
		for j := range grad {
			grad[j] += w * eps[j]
		}
	}

	episodes := len(returns)
	for j := range grad {
		grad[j] /= float64(episodes)
	}

	return grad, episodes
}
