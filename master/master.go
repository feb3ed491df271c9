package master

import (
	"context"
	"time"

	"github.com/evostrat/evostrat/es"
)

const aliveTimeout = 30 * time.Second

const aliveHistoryLimit = 10

// WorkerInfo is the master's ephemeral view of one worker: identity plus
// liveness accounting. It is never used for correctness, only diagnostics.
type WorkerInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Alive        bool        `json:"alive"`
	AliveHistory []time.Time `json:"alive_history"`
	Results      uint64      `json:"results"`
}

func (w *WorkerInfo) SetAlive() {
	if len(w.AliveHistory) > 0 {
		lastAlive := w.AliveHistory[len(w.AliveHistory)-1]
		if time.Since(lastAlive) <= aliveTimeout {
			w.Alive = true

			return
		}
	}
	w.Alive = false
}

type WorkerPage struct {
	Offset  uint64       `json:"offset"`
	Limit   uint64       `json:"limit"`
	Total   uint64       `json:"total"`
	Workers []WorkerInfo `json:"workers"`
}

// Status is a read-only snapshot of the run, served over the HTTP API.
type Status struct {
	EnvID      string   `json:"env_id"`
	Generation uint64   `json:"generation"`
	Stats      es.Stats `json:"stats"`
}

type Service interface {
	// Run drives the broadcast, collect, aggregate, update cycle until the
	// configured generation count is reached or ctx is cancelled.
	Run(ctx context.Context) error

	Status(ctx context.Context) (Status, error)

	GetWorker(ctx context.Context, workerID string) (WorkerInfo, error)

	ListWorkers(ctx context.Context, offset, limit uint64) (WorkerPage, error)
}
