package middleware

import (
	"context"

	"github.com/evostrat/evostrat/master"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ master.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    master.Service
}

func Tracing(tracer trace.Tracer, svc master.Service) master.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Run(ctx context.Context) (err error) {
	ctx, span := tm.tracer.Start(ctx, "run")
	defer span.End()

	return tm.svc.Run(ctx)
}

func (tm *tracing) Status(ctx context.Context) (resp master.Status, err error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) GetWorker(ctx context.Context, workerID string) (resp master.WorkerInfo, err error) {
	ctx, span := tm.tracer.Start(ctx, "get-worker", trace.WithAttributes(
		attribute.String("id", workerID),
	))
	defer span.End()

	return tm.svc.GetWorker(ctx, workerID)
}

func (tm *tracing) ListWorkers(ctx context.Context, offset, limit uint64) (resp master.WorkerPage, err error) {
	ctx, span := tm.tracer.Start(ctx, "list-workers", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListWorkers(ctx, offset, limit)
}
