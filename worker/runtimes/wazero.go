// Package runtimes hosts simulator implementations that live outside the
// worker process proper, currently a WebAssembly environment executed with
// wazero.
package runtimes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/evostrat/evostrat/worker"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const (
	allocFunction   = "alloc"
	rolloutFunction = "rollout"
	stepsFunction   = "rollout_steps"
)

// WasmEnvironment evaluates episodes inside a wasm module. The module must
// export alloc(size) -> ptr, rollout(ptr, dim, timestep_limit) -> f64 return
// and rollout_steps() -> i64. Weights are written into module memory as
// little-endian float64s. Each rollout runs in a fresh instance so no state
// leaks between episodes.
type WasmEnvironment struct {
	mu       sync.Mutex
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	logger   *slog.Logger
}

var _ worker.Environment = (*WasmEnvironment)(nil)

func NewWasmEnvironment(ctx context.Context, name string, wasmBinary []byte, logger *slog.Logger) (*WasmEnvironment, error) {
	r := wazero.NewRuntime(ctx)

	// WASI host functions are needed for TinyGo modules to implement panic.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBinary)
	if err != nil {
		_ = r.Close(ctx)

		return nil, errors.Join(errors.New("failed to compile Wasm module"), err)
	}

	return &WasmEnvironment{
		name:     name,
		runtime:  r,
		compiled: compiled,
		logger:   logger,
	}, nil
}

func (e *WasmEnvironment) Name() string {
	return e.name
}

func (e *WasmEnvironment) Rollout(ctx context.Context, weights []float64, timestepLimit int) (float64, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	module, err := e.runtime.InstantiateModule(ctx, e.compiled, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize"))
	if err != nil {
		return 0, 0, errors.Join(errors.New("failed to instantiate Wasm module"), err)
	}
	defer func() {
		if err := module.Close(ctx); err != nil {
			e.logger.Warn("failed to close Wasm module", slog.Any("error", err))
		}
	}()

	alloc := module.ExportedFunction(allocFunction)
	rollout := module.ExportedFunction(rolloutFunction)
	steps := module.ExportedFunction(stepsFunction)
	if alloc == nil || rollout == nil || steps == nil {
		return 0, 0, fmt.Errorf("wasm environment %q does not export %s/%s/%s", e.name, allocFunction, rolloutFunction, stepsFunction)
	}

	ptrRes, err := alloc.Call(ctx, uint64(len(weights)*8))
	if err != nil {
		return 0, 0, errors.Join(errors.New("failed to allocate guest memory"), err)
	}
	ptr := uint32(ptrRes[0])

	mem := module.Memory()
	for i, w := range weights {
		if !mem.WriteFloat64Le(ptr+uint32(i*8), w) {
			return 0, 0, fmt.Errorf("failed to write weight %d to guest memory", i)
		}
	}

	retRes, err := rollout.Call(ctx, uint64(ptr), uint64(len(weights)), uint64(timestepLimit))
	if err != nil {
		return 0, 0, err
	}

	stepsRes, err := steps.Call(ctx)
	if err != nil {
		return 0, 0, err
	}

	return api.DecodeF64(retRes[0]), int(stepsRes[0]), nil
}

func (e *WasmEnvironment) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
