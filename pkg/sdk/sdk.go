package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/evostrat/evostrat/master"
)

const CTJSON string = "application/json"

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type SDK interface {
	// Status gets the current run status.
	//
	// example:
	//  status, _ := sdk.Status()
	//  fmt.Println(status)
	Status() (master.Status, error)

	// GetWorker gets a worker by id.
	//
	// example:
	//  worker, _ := sdk.GetWorker("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(worker)
	GetWorker(id string) (master.WorkerInfo, error)

	// ListWorkers lists workers.
	//
	// example:
	//  workerPage, _ := sdk.ListWorkers(0, 10)
	//  fmt.Println(workerPage)
	ListWorkers(offset uint64, limit uint64) (master.WorkerPage, error)
}

type esSDK struct {
	masterURL string
	client    *http.Client
}

type Config struct {
	MasterURL       string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &esSDK{
		masterURL: cfg.MasterURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *esSDK) Status() (master.Status, error) {
	body, err := sdk.processRequest(http.MethodGet, sdk.masterURL+"/status", nil, http.StatusOK)
	if err != nil {
		return master.Status{}, err
	}

	var status master.Status
	if err := json.Unmarshal(body, &status); err != nil {
		return master.Status{}, err
	}

	return status, nil
}

func (sdk *esSDK) GetWorker(id string) (master.WorkerInfo, error) {
	body, err := sdk.processRequest(http.MethodGet, sdk.masterURL+"/workers/"+id, nil, http.StatusOK)
	if err != nil {
		return master.WorkerInfo{}, err
	}

	var w master.WorkerInfo
	if err := json.Unmarshal(body, &w); err != nil {
		return master.WorkerInfo{}, err
	}

	return w, nil
}

func (sdk *esSDK) ListWorkers(offset, limit uint64) (master.WorkerPage, error) {
	url := fmt.Sprintf("%s/workers?offset=%d&limit=%d", sdk.masterURL, offset, limit)
	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return master.WorkerPage{}, err
	}

	var page master.WorkerPage
	if err := json.Unmarshal(body, &page); err != nil {
		return master.WorkerPage{}, err
	}

	return page, nil
}

func (sdk *esSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
