package gascall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parsdextra/nanoreth/core/gascall/admission"
)

// stubExecutor records the chunks it sees. Unset hooks fall back to
// returning the chunk index and the number of combined parts.
type stubExecutor struct {
	mu      sync.Mutex
	chunks  []Chunk
	execute func(ctx context.Context, req CallRequest, chunk Chunk) (any, error)
	combine func(req CallRequest, parts []any) (any, error)
}

func (e *stubExecutor) ExecuteChunk(ctx context.Context, req CallRequest, chunk Chunk) (any, error) {
	e.mu.Lock()
	e.chunks = append(e.chunks, chunk)
	e.mu.Unlock()
	if e.execute != nil {
		return e.execute(ctx, req, chunk)
	}
	return chunk.Index, nil
}

func (e *stubExecutor) Combine(req CallRequest, parts []any) (any, error) {
	if e.combine != nil {
		return e.combine(req, parts)
	}
	return len(parts), nil
}

func (e *stubExecutor) seen() []Chunk {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Chunk(nil), e.chunks...)
}

func mustPlan(t *testing.T, gasLimit uint64, delay time.Duration) ChunkPlan {
	t.Helper()
	plan, err := PlanChunks(gasLimit, 50_000_000, 100_000_000, 100, delay)
	if err != nil {
		t.Fatalf("PlanChunks: %v", err)
	}
	if plan == nil {
		t.Fatalf("gas %d fell on the direct path", gasLimit)
	}
	return *plan
}

func TestSchedulerRunsAllChunks(t *testing.T) {
	gate := admission.NewGate("test-run", 4)
	exec := &stubExecutor{}
	plan := mustPlan(t, 300_000_000, 0)

	var events []ChunkProgress
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), func(p ChunkProgress) {
		events = append(events, p)
	})

	result, err := sched.Execute(context.Background(), CallRequest{Method: MethodCall, GasLimit: 300_000_000}, plan, exec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ChunksCompleted != 6 {
		t.Fatalf("expected 6 completed chunks, got %d", result.ChunksCompleted)
	}
	if result.GasProcessed != 300_000_000 {
		t.Fatalf("expected full gas processed, got %d", result.GasProcessed)
	}
	if result.Value != 6 {
		t.Fatalf("expected combined value 6, got %v", result.Value)
	}

	if len(events) != 6 {
		t.Fatalf("expected 6 progress events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.ChunkIndex != i+1 {
			t.Fatalf("progress event %d has index %d", i, ev.ChunkIndex)
		}
		if i > 0 && ev.GasProcessed <= events[i-1].GasProcessed {
			t.Fatalf("gas processed not increasing at event %d", i)
		}
	}
	if final := events[len(events)-1].Percent(); final != 100 {
		t.Fatalf("final progress percent %v, want 100", final)
	}

	stats := gate.Snapshot()
	if stats.Active != 0 {
		t.Fatalf("%d tickets still held after run", stats.Active)
	}
	if stats.Completed != 6 {
		t.Fatalf("expected 6 completed releases, got %d", stats.Completed)
	}
}

func TestSchedulerAbortsOnChunkFailure(t *testing.T) {
	gate := admission.NewGate("test-fail", 4)
	boom := errors.New("state root mismatch")
	exec := &stubExecutor{
		execute: func(_ context.Context, _ CallRequest, chunk Chunk) (any, error) {
			if chunk.Index == 4 {
				return nil, boom
			}
			return chunk.Index, nil
		},
	}
	plan := mustPlan(t, 300_000_000, 0)
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), nil)

	result, err := sched.Execute(context.Background(), CallRequest{Method: MethodEstimateGas, GasLimit: 300_000_000}, plan, exec)

	var chunkErr *ChunkExecutionError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected ChunkExecutionError, got %v", err)
	}
	if chunkErr.Index != 4 {
		t.Fatalf("expected failure at chunk 4, got %d", chunkErr.Index)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if result.ChunksCompleted != 3 {
		t.Fatalf("expected 3 completed chunks, got %d", result.ChunksCompleted)
	}
	if result.GasProcessed != 150_000_000 {
		t.Fatalf("expected 150M gas processed, got %d", result.GasProcessed)
	}
	if calls := len(exec.seen()); calls != 4 {
		t.Fatalf("executor ran %d chunks after the failing one, want 4 total", calls)
	}

	stats := gate.Snapshot()
	if stats.Active != 0 {
		t.Fatalf("%d tickets still held after abort", stats.Active)
	}
	if stats.Failed != 1 || stats.Completed != 3 {
		t.Fatalf("unexpected release counts: %+v", stats)
	}
}

func TestSchedulerAbortMidLargeRun(t *testing.T) {
	gate := admission.NewGate("test-large", 4)
	exec := &stubExecutor{
		execute: func(_ context.Context, _ CallRequest, chunk Chunk) (any, error) {
			if chunk.Index == 10 {
				return nil, errors.New("out of gas")
			}
			return chunk.Index, nil
		},
	}
	plan := mustPlan(t, 2_000_000_000, 0)
	if plan.ChunkCount != 40 {
		t.Fatalf("expected 40 chunks, got %d", plan.ChunkCount)
	}
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), nil)

	result, err := sched.Execute(context.Background(), CallRequest{Method: MethodCall, GasLimit: 2_000_000_000}, plan, exec)
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	if result.ChunksCompleted != 9 {
		t.Fatalf("expected 9 completed chunks, got %d", result.ChunksCompleted)
	}
	if want := uint64(9) * plan.ChunkGas; result.GasProcessed != want {
		t.Fatalf("expected %d gas processed, got %d", want, result.GasProcessed)
	}
	if calls := len(exec.seen()); calls != 10 {
		t.Fatalf("executor invoked for %d chunks, want exactly 10", calls)
	}
	if stats := gate.Snapshot(); stats.Active != 0 {
		t.Fatalf("%d tickets still held", stats.Active)
	}
}

func TestSchedulerChunkTimeout(t *testing.T) {
	gate := admission.NewGate("test-timeout", 4)
	exec := &stubExecutor{
		execute: func(ctx context.Context, _ CallRequest, _ Chunk) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	plan := mustPlan(t, 300_000_000, 0)
	sched := NewChunkScheduler(gate, testPolicy(20*time.Millisecond, 40*time.Millisecond, false), nil)

	result, err := sched.Execute(context.Background(), CallRequest{Method: MethodCall, GasLimit: 300_000_000}, plan, exec)

	var timeoutErr *CallTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected CallTimeoutError, got %v", err)
	}
	if timeoutErr.ChunkIndex != 1 {
		t.Fatalf("expected timeout on chunk 1, got %d", timeoutErr.ChunkIndex)
	}
	if result.ChunksCompleted != 0 {
		t.Fatalf("expected no completed chunks, got %d", result.ChunksCompleted)
	}

	stats := gate.Snapshot()
	if stats.Active != 0 {
		t.Fatalf("%d tickets still held after timeout", stats.Active)
	}
	if stats.TimedOut != 1 {
		t.Fatalf("expected 1 timed out release, got %d", stats.TimedOut)
	}
}

func TestSchedulerRejectionAborts(t *testing.T) {
	gate := admission.NewGate("test-reject", 1)
	held, err := gate.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release(admission.Completed)

	exec := &stubExecutor{}
	plan := mustPlan(t, 300_000_000, 0)
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), nil)

	result, execErr := sched.Execute(context.Background(), CallRequest{Method: MethodCall, GasLimit: 300_000_000}, plan, exec)

	var exhausted *ResourceExhaustedError
	if !errors.As(execErr, &exhausted) {
		t.Fatalf("expected ResourceExhaustedError, got %v", execErr)
	}
	if !errors.Is(execErr, admission.ErrGateFull) {
		t.Fatalf("gate-full cause not preserved: %v", execErr)
	}
	if result.ChunksCompleted != 0 {
		t.Fatalf("expected no completed chunks, got %d", result.ChunksCompleted)
	}
	if len(exec.seen()) != 0 {
		t.Fatal("executor ran despite rejection")
	}
}

func TestSchedulerParentCancellation(t *testing.T) {
	gate := admission.NewGate("test-cancel", 4)
	ctx, cancel := context.WithCancel(context.Background())

	exec := &stubExecutor{
		execute: func(cctx context.Context, _ CallRequest, chunk Chunk) (any, error) {
			if chunk.Index == 2 {
				cancel()
				<-cctx.Done()
				return nil, cctx.Err()
			}
			return chunk.Index, nil
		},
	}
	plan := mustPlan(t, 300_000_000, 0)
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), nil)

	result, err := sched.Execute(ctx, CallRequest{Method: MethodCall, GasLimit: 300_000_000}, plan, exec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.ChunksCompleted != 1 {
		t.Fatalf("expected 1 completed chunk before cancellation, got %d", result.ChunksCompleted)
	}
	if stats := gate.Snapshot(); stats.Active != 0 {
		t.Fatalf("%d tickets still held after cancellation", stats.Active)
	}
}

func TestSchedulerInterChunkDelay(t *testing.T) {
	gate := admission.NewGate("test-delay", 4)
	exec := &stubExecutor{}
	plan := mustPlan(t, 150_000_000, 20*time.Millisecond)
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), nil)

	start := time.Now()
	result, err := sched.Execute(context.Background(), CallRequest{Method: MethodCall, GasLimit: 150_000_000}, plan, exec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ChunksCompleted != 3 {
		t.Fatalf("expected 3 chunks, got %d", result.ChunksCompleted)
	}
	// Two pauses between three chunks; none after the last.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("run finished in %v, pacing not applied", elapsed)
	}
}

func TestSchedulerCombineFailure(t *testing.T) {
	gate := admission.NewGate("test-combine", 4)
	exec := &stubExecutor{
		combine: func(_ CallRequest, parts []any) (any, error) {
			return nil, fmt.Errorf("cannot merge %d parts", len(parts))
		},
	}
	plan := mustPlan(t, 150_000_000, 0)
	sched := NewChunkScheduler(gate, testPolicy(time.Second, 10*time.Second, false), nil)

	_, err := sched.Execute(context.Background(), CallRequest{Method: MethodEstimateGas, GasLimit: 150_000_000}, plan, exec)
	var chunkErr *ChunkExecutionError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected ChunkExecutionError from combine, got %v", err)
	}
	if stats := gate.Snapshot(); stats.Active != 0 {
		t.Fatalf("%d tickets still held", stats.Active)
	}
}
