// Package gasapi exposes the gas-aware call frontend over JSON-RPC. The
// methods mirror the standard eth namespace so existing clients work
// unchanged; the difference is entirely behavioral (deadlines, admission and
// chunking applied in front of the engine).
package gasapi

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/log"

	"github.com/parsdextra/nanoreth/core/gascall"
	"github.com/parsdextra/nanoreth/core/gascall/admission"
	"github.com/parsdextra/nanoreth/core/gascall/gclog"
	"github.com/parsdextra/nanoreth/internal/upstream"
)

// Backend is the dispatcher surface the API needs.
type Backend interface {
	Dispatch(ctx context.Context, req gascall.CallRequest) (*gascall.CallResult, error)
	Config() gascall.Config
	Stats() admission.Stats
}

var errNonJSONResult = errors.New("engine returned a non-JSON result")

// API implements the eth_call and eth_estimateGas handlers.
type API struct {
	backend Backend
	logger  log.Logger
}

// NewAPI creates the eth namespace handler backed by the given dispatcher.
func NewAPI(backend Backend) *API {
	return &API{backend: backend, logger: gclog.New()}
}

// Call executes a read-only call under the controller's gas-aware limits.
// Optional trailing parameters are forwarded to the engine verbatim.
func (api *API) Call(ctx context.Context, args upstream.CallArgs, blockNumber, stateOverride, blockOverrides *json.RawMessage) (json.RawMessage, error) {
	return api.dispatch(ctx, gascall.MethodCall, args, blockNumber, stateOverride, blockOverrides)
}

// EstimateGas estimates the gas needed by a transaction, chunking the probe
// executions for large budgets.
func (api *API) EstimateGas(ctx context.Context, args upstream.CallArgs, blockNumber, stateOverride, blockOverrides *json.RawMessage) (json.RawMessage, error) {
	return api.dispatch(ctx, gascall.MethodEstimateGas, args, blockNumber, stateOverride, blockOverrides)
}

func (api *API) dispatch(ctx context.Context, method gascall.Method, args upstream.CallArgs, optional ...*json.RawMessage) (json.RawMessage, error) {
	gas, ok := args.Gas()
	if !ok {
		// No explicit budget means the caller gets the full cap.
		gas = api.backend.Config().GasCap
	}

	req := gascall.CallRequest{
		Method:   method,
		GasLimit: gas,
		Payload: &upstream.Request{
			Args:  args,
			Extra: packOptional(optional),
		},
	}

	result, err := api.backend.Dispatch(ctx, req)
	if err != nil {
		api.logger.Debug("Call rejected or failed", "method", method, "gas", gas, "err", err)
		return nil, err
	}

	value, ok := result.Value.(json.RawMessage)
	if !ok {
		return nil, &gascall.ChunkExecutionError{Index: result.ChunksCompleted, Err: errNonJSONResult}
	}
	return value, nil
}

// packOptional converts the optional trailing parameters into positional raw
// values, preserving JSON null for a skipped middle parameter and dropping
// absent trailing ones.
func packOptional(optional []*json.RawMessage) []json.RawMessage {
	last := -1
	for i, p := range optional {
		if p != nil {
			last = i
		}
	}

	extras := make([]json.RawMessage, 0, last+1)
	for i := 0; i <= last; i++ {
		if optional[i] == nil {
			extras = append(extras, json.RawMessage("null"))
			continue
		}
		extras = append(extras, *optional[i])
	}
	return extras
}
