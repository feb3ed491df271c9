package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/evostrat/evostrat/master"
)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    master.Service
}

func Logging(logger *slog.Logger, svc master.Service) master.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Run(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Optimization run failed", args...)

			return
		}
		lm.logger.Info("Optimization run completed successfully", args...)
	}(time.Now())

	return lm.svc.Run(ctx)
}

func (lm *loggingMiddleware) Status(ctx context.Context) (resp master.Status, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("generation", resp.Generation),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get status failed", args...)

			return
		}
		lm.logger.Info("Get status completed successfully", args...)
	}(time.Now())

	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) GetWorker(ctx context.Context, workerID string) (resp master.WorkerInfo, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("worker",
				slog.String("id", workerID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get worker failed", args...)

			return
		}
		lm.logger.Info("Get worker completed successfully", args...)
	}(time.Now())

	return lm.svc.GetWorker(ctx, workerID)
}

func (lm *loggingMiddleware) ListWorkers(ctx context.Context, offset, limit uint64) (resp master.WorkerPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List workers failed", args...)

			return
		}
		lm.logger.Info("List workers completed successfully", args...)
	}(time.Now())

	return lm.svc.ListWorkers(ctx, offset, limit)
}
