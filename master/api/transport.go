package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/evostrat/evostrat/master"
	"github.com/evostrat/evostrat/pkg/api"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func MakeHandler(svc master.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		statusEndpoint(svc),
		decodeStatusReq,
		api.EncodeResponse,
		opts...,
	), "status").ServeHTTP)

	mux.Route("/workers", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listWorkersEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-workers").ServeHTTP)
		r.Get("/{workerID}", otelhttp.NewHandler(kithttp.NewServer(
			getWorkerEndpoint(svc),
			decodeEntityReq("workerID"),
			api.EncodeResponse,
			opts...,
		), "get-worker").ServeHTTP)
	})

	mux.Get("/health", supermq.Health("master", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeStatusReq(_ context.Context, _ *http.Request) (any, error) {
	return statusReq{}, nil
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}
