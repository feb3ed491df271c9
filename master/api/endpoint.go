package api

import (
	"context"
	"errors"

	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/evostrat/evostrat/master"
	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
	"github.com/go-kit/kit/endpoint"
)

func statusEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if _, ok := request.(statusReq); !ok {
			return statusResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}

		status, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			Status: status,
		}, nil
	}
}

func getWorkerEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return workerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return workerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		w, err := svc.GetWorker(ctx, req.id)
		if err != nil {
			return workerResponse{}, err
		}

		return workerResponse{
			WorkerInfo: w,
		}, nil
	}
}

func listWorkersEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listWorkerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listWorkerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		workers, err := svc.ListWorkers(ctx, req.offset, req.limit)
		if err != nil {
			return listWorkerResponse{}, err
		}

		return listWorkerResponse{
			WorkerPage: workers,
		}, nil
	}
}
