package gasapi

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsdextra/nanoreth/core/gascall"
	"github.com/parsdextra/nanoreth/core/gascall/admission"
	"github.com/parsdextra/nanoreth/core/gascall/audit"
	"github.com/parsdextra/nanoreth/internal/upstream"
)

type stubBackend struct {
	req    gascall.CallRequest
	result *gascall.CallResult
	err    error
	stats  admission.Stats
}

func (b *stubBackend) Dispatch(_ context.Context, req gascall.CallRequest) (*gascall.CallResult, error) {
	b.req = req
	return b.result, b.err
}

func (b *stubBackend) Config() gascall.Config { return gascall.DefaultConfig }

func (b *stubBackend) Stats() admission.Stats { return b.stats }

func raw(s string) *json.RawMessage {
	r := json.RawMessage(s)
	return &r
}

func TestCallUsesRequestedGas(t *testing.T) {
	backend := &stubBackend{result: &gascall.CallResult{Value: json.RawMessage(`"0x01"`)}}
	api := NewAPI(backend)

	args := upstream.CallArgs{}.WithGas(150_000_000)
	value, err := api.Call(context.Background(), args, raw(`"latest"`), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x01"`), value)

	assert.Equal(t, gascall.MethodCall, backend.req.Method)
	assert.Equal(t, uint64(150_000_000), backend.req.GasLimit)

	payload, ok := backend.req.Payload.(*upstream.Request)
	require.True(t, ok)
	require.Len(t, payload.Extra, 1)
	assert.Equal(t, json.RawMessage(`"latest"`), payload.Extra[0])
}

func TestCallDefaultsToGasCap(t *testing.T) {
	backend := &stubBackend{result: &gascall.CallResult{Value: json.RawMessage(`"0x"`)}}
	api := NewAPI(backend)

	_, err := api.Call(context.Background(), upstream.CallArgs{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, gascall.DefaultConfig.GasCap, backend.req.GasLimit)

	payload := backend.req.Payload.(*upstream.Request)
	assert.Empty(t, payload.Extra)
}

func TestCallPreservesSkippedMiddleParameter(t *testing.T) {
	backend := &stubBackend{result: &gascall.CallResult{Value: json.RawMessage(`"0x"`)}}
	api := NewAPI(backend)

	_, err := api.Call(context.Background(), upstream.CallArgs{}, raw(`"latest"`), nil, raw(`{"time":"0x1"}`))
	require.NoError(t, err)

	payload := backend.req.Payload.(*upstream.Request)
	require.Len(t, payload.Extra, 3)
	assert.Equal(t, json.RawMessage("null"), payload.Extra[1])
	assert.Equal(t, json.RawMessage(`{"time":"0x1"}`), payload.Extra[2])
}

func TestEstimateGasMethodSelection(t *testing.T) {
	backend := &stubBackend{result: &gascall.CallResult{Value: json.RawMessage(`"0x5208"`)}}
	api := NewAPI(backend)

	value, err := api.EstimateGas(context.Background(), upstream.CallArgs{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x5208"`), value)
	assert.Equal(t, gascall.MethodEstimateGas, backend.req.Method)
}

func TestCallPropagatesDispatchErrors(t *testing.T) {
	limitErr := &gascall.GasLimitExceededError{Requested: 3_000_000_000, Cap: 2_000_000_000}
	backend := &stubBackend{err: limitErr}
	api := NewAPI(backend)

	_, err := api.Call(context.Background(), upstream.CallArgs{}.WithGas(3_000_000_000), nil, nil, nil)
	var got *gascall.GasLimitExceededError
	require.True(t, errors.As(err, &got))
}

func TestOpsStats(t *testing.T) {
	backend := &stubBackend{stats: admission.Stats{Accepted: 10, Completed: 8, Rejected: 1}}
	api := NewOpsAPI(backend, nil)

	stats := api.Stats()
	assert.Equal(t, gascall.DefaultConfig.MaxConcurrentCalls, stats.MaxConcurrentCalls)
	assert.EqualValues(t, 10, stats.Gate.Accepted)
	assert.InDelta(t, 0.8, stats.SuccessRate, 1e-9)

	records, err := api.RecentCalls(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestOpsRecentCalls(t *testing.T) {
	store := audit.NewMemory()
	require.NoError(t, store.AddCallRecord(context.Background(), &audit.CallRecord{Method: "call", Status: audit.StatusOK}))

	api := NewOpsAPI(&stubBackend{}, store)
	records, err := api.RecentCalls(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "call", records[0].Method)
}
