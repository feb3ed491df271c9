package master

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evostrat/evostrat/es"
	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
)

func (svc *service) handleRegistration(ctx context.Context) func(es.Registration) {
	return func(reg es.Registration) {
		if err := svc.updateLiveness(ctx, reg); err != nil {
			svc.logger.Warn("failed to update worker liveness",
				slog.String("worker_id", reg.WorkerID),
				slog.Any("error", err))
		}
	}
}

func (svc *service) updateLiveness(ctx context.Context, reg es.Registration) error {
	data, err := svc.workersDB.Get(ctx, reg.WorkerID)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		w := WorkerInfo{
			ID:    reg.WorkerID,
			Name:  reg.Name,
			Alive: reg.Status == es.StatusAlive,
		}
		if w.Alive {
			w.AliveHistory = []time.Time{time.Now()}
		}

		svc.logger.Info("registered worker", slog.String("worker_id", reg.WorkerID), slog.String("name", reg.Name))

		return svc.workersDB.Create(ctx, reg.WorkerID, w)
	case err != nil:
		return err
	}

	w, ok := data.(WorkerInfo)
	if !ok {
		return pkgerrors.ErrInvalidData
	}

	if reg.Status == es.StatusOffline {
		w.Alive = false

		return svc.workersDB.Update(ctx, reg.WorkerID, w)
	}

	w.Alive = true
	w.AliveHistory = append(w.AliveHistory, time.Now())
	if len(w.AliveHistory) > aliveHistoryLimit {
		w.AliveHistory = w.AliveHistory[1:]
	}

	return svc.workersDB.Update(ctx, reg.WorkerID, w)
}

func (svc *service) recordWorkerResult(ctx context.Context, workerID string) {
	data, err := svc.workersDB.Get(ctx, workerID)
	if err != nil {
		return
	}
	w, ok := data.(WorkerInfo)
	if !ok {
		return
	}
	w.Results++
	if err := svc.workersDB.Update(ctx, workerID, w); err != nil {
		svc.logger.Debug("failed to update worker result count", slog.String("worker_id", workerID), slog.Any("error", err))
	}
}
