package gascall

import (
	"context"
	"time"
)

// Method identifies the simulation entry point a request targets.
type Method int

const (
	MethodCall Method = iota
	MethodEstimateGas
)

func (m Method) String() string {
	switch m {
	case MethodCall:
		return "call"
	case MethodEstimateGas:
		return "estimateGas"
	default:
		return "unknown"
	}
}

// CallRequest is one simulation request as seen by the controller. Payload
// is opaque here and forwarded untouched to the executor collaborator.
type CallRequest struct {
	Method   Method
	GasLimit uint64
	Payload  any
}

// Chunk identifies one bounded sub-execution of a request. Index is 1-based
// for chunked runs and zero for a direct, unchunked execution. Ceiling is
// the cumulative gas ceiling including this chunk; how the executor resumes
// work up to that ceiling is the execution engine's contract, not ours.
type Chunk struct {
	Index   int
	Gas     uint64
	Ceiling uint64
}

// Executor is the execution-engine collaborator. ExecuteChunk must honor the
// deadline carried by ctx; Combine aggregates the per-chunk values of a
// fully completed run into the single result the caller expects.
type Executor interface {
	ExecuteChunk(ctx context.Context, req CallRequest, chunk Chunk) (any, error)
	Combine(req CallRequest, parts []any) (any, error)
}

// ChunkProgress is emitted once per completed chunk, with strictly
// increasing ChunkIndex.
type ChunkProgress struct {
	ChunkIndex   int
	ChunksTotal  int
	GasProcessed uint64
	TotalGas     uint64
	Elapsed      time.Duration
}

// Percent reports how much of the total gas budget has been processed.
func (p ChunkProgress) Percent() float64 {
	if p.TotalGas == 0 {
		return 0
	}
	return float64(p.GasProcessed) / float64(p.TotalGas) * 100
}

// CallResult carries the outcome of a dispatched call. On success Value
// holds the combined result. On a terminal error Value is nil and the
// progress fields are diagnostic only: a partial run is never promoted to a
// valid call or estimateGas response.
type CallResult struct {
	Value           any
	ChunksCompleted int
	GasProcessed    uint64
	Elapsed         time.Duration
}
