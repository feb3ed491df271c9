package middleware

import (
	"context"
	"time"

	"github.com/evostrat/evostrat/master"
	"github.com/go-kit/kit/metrics"
)

var _ master.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     master.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc master.Service) master.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Run(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "run").Add(1)
		mm.latency.With("method", "run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Run(ctx)
}

func (mm *metricsMiddleware) Status(ctx context.Context) (master.Status, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "status").Add(1)
		mm.latency.With("method", "status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) GetWorker(ctx context.Context, workerID string) (master.WorkerInfo, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-worker").Add(1)
		mm.latency.With("method", "get-worker").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetWorker(ctx, workerID)
}

func (mm *metricsMiddleware) ListWorkers(ctx context.Context, offset, limit uint64) (master.WorkerPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-workers").Add(1)
		mm.latency.With("method", "list-workers").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListWorkers(ctx, offset, limit)
}
