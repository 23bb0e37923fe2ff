package gascall

import (
	"time"
)

// ChunkPlan describes how a single oversized call is split into sequential
// bounded sub-executions. ChunkCount*ChunkGas always covers TotalGas; the
// last chunk carries whatever remainder is left.
type ChunkPlan struct {
	TotalGas        uint64
	ChunkGas        uint64
	ChunkCount      int
	InterChunkDelay time.Duration
}

// GasCeiling returns the cumulative gas ceiling after the chunk with the
// given 1-based index has run.
func (p ChunkPlan) GasCeiling(index int) uint64 {
	ceiling := uint64(index) * p.ChunkGas
	if ceiling > p.TotalGas {
		ceiling = p.TotalGas
	}
	return ceiling
}

// GasForChunk returns the gas budget of one chunk. All chunks get ChunkGas
// except the last, which gets the remainder.
func (p ChunkPlan) GasForChunk(index int) uint64 {
	return p.GasCeiling(index) - p.GasCeiling(index-1)
}

// PlanChunks decides whether a call needs chunked execution. It returns nil
// when the gas limit is at or below the threshold, in which case the caller
// takes the direct path. A request that would need more than maxChunks
// chunks is refused rather than truncated, so a plan always covers the whole
// gas budget.
func PlanChunks(gasLimit, chunkGas, threshold uint64, maxChunks int, delay time.Duration) (*ChunkPlan, error) {
	if gasLimit <= threshold {
		return nil, nil
	}
	if chunkGas == 0 {
		return nil, &ConfigError{Reason: "chunk gas must be positive"}
	}

	count := int((gasLimit + chunkGas - 1) / chunkGas)
	if count > maxChunks {
		return nil, &GasLimitExceededError{Requested: gasLimit, Cap: uint64(maxChunks) * chunkGas}
	}

	return &ChunkPlan{
		TotalGas:        gasLimit,
		ChunkGas:        chunkGas,
		ChunkCount:      count,
		InterChunkDelay: delay,
	}, nil
}
