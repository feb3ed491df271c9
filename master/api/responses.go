package api

import (
	"net/http"

	"github.com/absmach/supermq"
	"github.com/evostrat/evostrat/master"
)

var (
	_ supermq.Response = (*statusResponse)(nil)
	_ supermq.Response = (*workerResponse)(nil)
	_ supermq.Response = (*listWorkerResponse)(nil)
)

type statusResponse struct {
	master.Status
}

func (s statusResponse) Code() int {
	return http.StatusOK
}

func (s statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s statusResponse) Empty() bool {
	return false
}

type workerResponse struct {
	master.WorkerInfo
}

func (w workerResponse) Code() int {
	return http.StatusOK
}

func (w workerResponse) Headers() map[string]string {
	return map[string]string{}
}

func (w workerResponse) Empty() bool {
	return false
}

type listWorkerResponse struct {
	master.WorkerPage
}

func (l listWorkerResponse) Code() int {
	return http.StatusOK
}

func (l listWorkerResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listWorkerResponse) Empty() bool {
	return false
}
