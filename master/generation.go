package master

import (
	"sync"

	"github.com/evostrat/evostrat/es"
)

// window accumulates results for the generation currently being collected.
// It closes itself once both the episode and the timestep quota are met; the
// soft deadline is the caller's concern. offer outcomes feed the straggler
// and duplicate diagnostics.
type window struct {
	mu sync.Mutex

	generation     uint64
	episodesQuota  int
	timestepsQuota int

	seen        map[int64]struct{}
	evalSeen    map[string]struct{}
	results     []es.RolloutResult
	evalReturns []float64
	episodes    int
	timesteps   int

	duplicates uint64
	closed     bool
	done       chan struct{}
}

type offerOutcome uint8

const (
	offerAccepted offerOutcome = iota
	offerStale
	offerDuplicate
)

func newWindow(generation uint64, episodesQuota, timestepsQuota int) *window {
	return &window{
		generation:     generation,
		episodesQuota:  episodesQuota,
		timestepsQuota: timestepsQuota,
		seen:           make(map[int64]struct{}),
		evalSeen:       make(map[string]struct{}),
		done:           make(chan struct{}),
	}
}

// offer routes one result into the window. Results from any other
// generation are stale and dropped; a repeated (generation, seed) pair is a
// duplicate submission and affects the aggregate exactly as if submitted
// once.
func (w *window) offer(r es.RolloutResult) offerOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || r.Generation != w.generation {
		return offerStale
	}

	// Eval results carry no seed, so they are accepted once per worker per
	// generation; a redelivery cannot double-count toward the quota.
	if r.Eval {
		if _, ok := w.evalSeen[r.WorkerID]; ok {
			w.duplicates++

			return offerDuplicate
		}
		w.evalSeen[r.WorkerID] = struct{}{}

		w.evalReturns = append(w.evalReturns, r.EvalReturn)
		w.episodes += r.Episodes()
		w.timesteps += r.Timesteps()
		w.checkQuota()

		return offerAccepted
	}

	if _, ok := w.seen[r.Seed]; ok {
		w.duplicates++

		return offerDuplicate
	}
	w.seen[r.Seed] = struct{}{}

	w.results = append(w.results, r)
	w.episodes += r.Episodes()
	w.timesteps += r.Timesteps()
	w.checkQuota()

	return offerAccepted
}

func (w *window) checkQuota() {
	if w.episodes >= w.episodesQuota && w.timesteps >= w.timestepsQuota {
		w.closeLocked()
	}
}

func (w *window) closeLocked() {
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}

// drain closes the window and hands back whatever subset has arrived.
// Results offered afterwards are silently dropped.
func (w *window) drain() ([]es.RolloutResult, []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeLocked()

	return w.results, w.evalReturns
}

func (w *window) counts() (episodes, timesteps int, duplicates uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.episodes, w.timesteps, w.duplicates
}
