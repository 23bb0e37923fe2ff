package gascall

import (
	"time"

	"github.com/parsdextra/nanoreth/core/gascall/duration"
)

// Progressive timeout breakpoints. Deadlines are flat below LowGasBreakpoint
// and scale piecewise-linearly above it, reaching MaxTimeout at the gas cap.
const (
	LowGasBreakpoint  uint64 = 1_000_000
	HighGasBreakpoint uint64 = 100_000_000
)

// Config holds all process-wide knobs of the execution controller. It is
// fixed at startup: Sanitize once, then pass the value by injection into
// each component. No global mutable configuration exists.
type (
	Config struct {
		BaseTimeout        duration.Duration // Deadline for calls at or below the low-gas breakpoint.
		MaxTimeout         duration.Duration // Upper bound for progressive deadline scaling.
		ProgressiveTimeout bool              // Scale deadlines with requested gas; when false every call gets BaseTimeout.
		GasCap             uint64            // Requests above this gas limit are rejected outright.
		ChunkGas           uint64            // Gas budget of one bounded sub-execution.
		ChunkingThreshold  uint64            // Requests above this gas limit are split into chunks.
		MaxChunks          int               // Hard bound on the chunk count of a single call.
		InterChunkDelay    duration.Duration // Mandatory pause between chunks so the storage layer can settle.
		DBReadTimeout      duration.Duration // Deadline for a single storage read scope.
		MaxConcurrentCalls int64             // Slots on the dispatch admission gate.
		MaxConcurrentReads int64             // Slots on the storage admission gate.
		ReadsPerSecond     float64           // Optional storage read pacing; 0 disables the pacer.
	}
)

// DefaultConfig mirrors the flag defaults of the node frontend.
var DefaultConfig = Config{
	BaseTimeout:        duration.Duration(30 * time.Second),
	MaxTimeout:         duration.Duration(time.Hour),
	ProgressiveTimeout: true,
	GasCap:             2_000_000_000,
	ChunkGas:           50_000_000,
	ChunkingThreshold:  100_000_000,
	MaxChunks:          100,
	InterChunkDelay:    duration.Duration(100 * time.Millisecond),
	DBReadTimeout:      duration.Duration(60 * time.Second),
	MaxConcurrentCalls: 100,
	MaxConcurrentReads: 100,
}

// Sanitize fills unset fields from DefaultConfig and validates the result.
// It returns a ConfigError for settings no deployment can meaningfully run
// with, rather than degrading at request time.
func (c Config) Sanitize() (Config, error) {
	if c.BaseTimeout <= 0 {
		c.BaseTimeout = DefaultConfig.BaseTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = DefaultConfig.MaxTimeout
	}
	if c.GasCap == 0 {
		c.GasCap = DefaultConfig.GasCap
	}
	if c.ChunkGas == 0 {
		c.ChunkGas = DefaultConfig.ChunkGas
	}
	if c.ChunkingThreshold == 0 {
		c.ChunkingThreshold = DefaultConfig.ChunkingThreshold
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultConfig.MaxChunks
	}
	if c.InterChunkDelay <= 0 {
		c.InterChunkDelay = DefaultConfig.InterChunkDelay
	}
	if c.DBReadTimeout <= 0 {
		c.DBReadTimeout = DefaultConfig.DBReadTimeout
	}
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = DefaultConfig.MaxConcurrentCalls
	}
	if c.MaxConcurrentReads <= 0 {
		c.MaxConcurrentReads = DefaultConfig.MaxConcurrentReads
	}

	if c.MaxTimeout < c.BaseTimeout {
		return c, &ConfigError{Reason: "max timeout is below base timeout"}
	}
	if c.GasCap <= HighGasBreakpoint {
		return c, &ConfigError{Reason: "gas cap must exceed the high-gas breakpoint"}
	}
	if c.ChunkGas > c.ChunkingThreshold {
		return c, &ConfigError{Reason: "chunk gas exceeds the chunking threshold"}
	}
	// Every gas limit the cap admits must be plannable.
	if maxPlannable := uint64(c.MaxChunks) * c.ChunkGas; maxPlannable < c.GasCap {
		return c, &ConfigError{Reason: "max chunks times chunk gas does not cover the gas cap"}
	}
	return c, nil
}
