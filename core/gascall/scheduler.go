package gascall

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/parsdextra/nanoreth/core/gascall/admission"
	"github.com/parsdextra/nanoreth/core/gascall/gclog"
)

// runPhase tracks where a chunked run is in its lifecycle. Transitions are
// driven only by chunk outcomes: Planned -> Running(i) -> ... -> Completed,
// or Aborted as soon as any chunk is rejected, times out, or fails.
type runPhase int

const (
	phasePlanned runPhase = iota
	phaseRunning
	phaseCompleted
	phaseAborted
)

// chunkRun is the mutable state of one chunked execution. It exists for the
// scope of a single dispatched call and is never shared between goroutines.
type chunkRun struct {
	plan      ChunkPlan
	phase     runPhase
	index     int // chunk currently running, 1-based
	startedAt time.Time
	parts     []any
}

func newChunkRun(plan ChunkPlan) *chunkRun {
	return &chunkRun{
		plan:      plan,
		phase:     phasePlanned,
		startedAt: time.Now(),
		parts:     make([]any, 0, plan.ChunkCount),
	}
}

func (r *chunkRun) begin(index int) {
	r.phase = phaseRunning
	r.index = index
}

func (r *chunkRun) chunkDone(value any) {
	r.parts = append(r.parts, value)
}

func (r *chunkRun) abort() {
	r.phase = phaseAborted
}

func (r *chunkRun) finish() {
	r.phase = phaseCompleted
}

func (r *chunkRun) completed() int {
	return len(r.parts)
}

// result materializes the run's progress. On an aborted run the fields are
// diagnostic only.
func (r *chunkRun) result() *CallResult {
	return &CallResult{
		ChunksCompleted: r.completed(),
		GasProcessed:    r.plan.GasCeiling(r.completed()),
		Elapsed:         time.Since(r.startedAt),
	}
}

// ChunkScheduler runs the chunks of a plan strictly sequentially. Each chunk
// acquires its own admission ticket and its own deadline sized to the
// chunk's gas, so no single resource hold outlives one bounded
// sub-execution regardless of how large the overall call is.
type ChunkScheduler struct {
	gate     *admission.Gate
	policy   TimeoutPolicy
	progress func(ChunkProgress)
	logger   log.Logger
}

// NewChunkScheduler creates a scheduler drawing tickets from the given
// dispatch gate. progress may be nil.
func NewChunkScheduler(gate *admission.Gate, policy TimeoutPolicy, progress func(ChunkProgress)) *ChunkScheduler {
	return &ChunkScheduler{
		gate:     gate,
		policy:   policy,
		progress: progress,
		logger:   gclog.New(),
	}
}

// Execute runs every chunk of the plan in order and combines the per-chunk
// values through the executor. The first rejection, timeout, or failure
// aborts the remaining chunks; the returned CallResult then reports how far
// the run got. The ticket of the running chunk is released on every exit
// path.
func (s *ChunkScheduler) Execute(ctx context.Context, req CallRequest, plan ChunkPlan, exec Executor) (*CallResult, error) {
	run := newChunkRun(plan)

	s.logger.Info("chunk_exec_start",
		"method", req.Method,
		"totalGas", plan.TotalGas,
		"chunkCount", plan.ChunkCount,
		"chunkGas", plan.ChunkGas,
	)

	for index := 1; index <= plan.ChunkCount; index++ {
		run.begin(index)

		ticket, err := s.gate.Acquire()
		if err != nil {
			run.abort()
			s.logger.Warn("Chunk admission rejected", "chunkIndex", index, "err", err)
			return run.result(), &ResourceExhaustedError{Gate: s.gate.Name(), Err: err}
		}

		chunk := Chunk{
			Index:   index,
			Gas:     plan.GasForChunk(index),
			Ceiling: plan.GasCeiling(index),
		}

		// The deadline is sized to the chunk's gas, not the total, so each
		// individual resource hold stays short.
		timeout := s.policy.Timeout(chunk.Gas)
		value, err := s.runChunk(ctx, req, chunk, timeout, exec)
		if err != nil {
			run.abort()
			switch {
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				ticket.Release(admission.TimedOut)
				s.logger.Warn("Chunk timed out", "chunkIndex", index, "timeout", timeout, "gas", chunk.Gas)
				return run.result(), &CallTimeoutError{Timeout: timeout, Gas: chunk.Gas, ChunkIndex: index}
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				ticket.Release(admission.TimedOut)
				return run.result(), &CallTimeoutError{Timeout: timeout, Gas: chunk.Gas, ChunkIndex: index}
			case ctx.Err() != nil:
				ticket.Release(admission.Failed)
				return run.result(), ctx.Err()
			default:
				ticket.Release(admission.Failed)
				s.logger.Warn("Chunk execution failed", "chunkIndex", index, "err", err)
				return run.result(), &ChunkExecutionError{Index: index, Err: err}
			}
		}
		ticket.Release(admission.Completed)
		run.chunkDone(value)

		elapsed := time.Since(run.startedAt)
		event := ChunkProgress{
			ChunkIndex:   index,
			ChunksTotal:  plan.ChunkCount,
			GasProcessed: chunk.Ceiling,
			TotalGas:     plan.TotalGas,
			Elapsed:      elapsed,
		}
		if s.progress != nil {
			s.progress(event)
		}
		s.logger.Info("chunk_done",
			"chunkIndex", index,
			"chunksTotal", plan.ChunkCount,
			"gasProcessed", chunk.Ceiling,
			"elapsedSeconds", elapsed.Seconds(),
			"percent", event.Percent(),
		)

		// The pause lets the storage layer settle between resource holds.
		// Skipping it under load reproduces the exhaustion hang this
		// scheduler exists to prevent, so it only yields to cancellation.
		if index < plan.ChunkCount {
			if err := sleepInterChunk(ctx, plan.InterChunkDelay); err != nil {
				run.abort()
				return run.result(), err
			}
		}
	}

	value, err := exec.Combine(req, run.parts)
	if err != nil {
		run.abort()
		return run.result(), &ChunkExecutionError{Index: plan.ChunkCount, Err: err}
	}
	run.finish()

	result := run.result()
	result.Value = value

	s.logger.Info("chunk_exec_done",
		"totalGas", plan.TotalGas,
		"chunkCount", plan.ChunkCount,
		"totalElapsedSeconds", result.Elapsed.Seconds(),
	)
	return result, nil
}

// runChunk executes one chunk under its own deadline.
func (s *ChunkScheduler) runChunk(ctx context.Context, req CallRequest, chunk Chunk, timeout time.Duration, exec Executor) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return exec.ExecuteChunk(cctx, req, chunk)
}

func sleepInterChunk(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
