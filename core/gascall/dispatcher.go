package gascall

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/parsdextra/nanoreth/core/gascall/admission"
	"github.com/parsdextra/nanoreth/core/gascall/audit"
	"github.com/parsdextra/nanoreth/core/gascall/gclog"
)

// Dispatcher is the sole entry point the controller presents to the
// surrounding RPC layer. It enforces the gas cap, decides between direct and
// chunked execution, and guarantees that every admitted execution releases
// its admission ticket on every exit path.
type Dispatcher struct {
	cfg       Config
	policy    TimeoutPolicy
	gate      *admission.Gate
	scheduler *ChunkScheduler
	executor  Executor
	audit     audit.Storage // may be nil
	logger    log.Logger

	progressFeed event.FeedOf[ChunkProgress]
}

// NewDispatcher sanitizes the configuration and wires the dispatch gate,
// timeout policy and chunk scheduler around the given executor. store may be
// nil to disable call auditing.
func NewDispatcher(cfg Config, exec Executor, store audit.Storage) (*Dispatcher, error) {
	cfg, err := cfg.Sanitize()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:      cfg,
		policy:   NewTimeoutPolicy(cfg),
		gate:     admission.NewGate("dispatch", cfg.MaxConcurrentCalls),
		executor: exec,
		audit:    store,
		logger:   gclog.New(),
	}
	d.scheduler = NewChunkScheduler(d.gate, d.policy, func(p ChunkProgress) {
		d.progressFeed.Send(p)
	})
	return d, nil
}

// Config returns the sanitized configuration the dispatcher runs with.
func (d *Dispatcher) Config() Config { return d.cfg }

// Stats returns a snapshot of the dispatch admission gate.
func (d *Dispatcher) Stats() admission.Stats { return d.gate.Snapshot() }

// SubscribeProgress delivers per-chunk progress events of all in-flight
// chunked calls to the given channel until the subscription is unsubscribed.
func (d *Dispatcher) SubscribeProgress(ch chan<- ChunkProgress) event.Subscription {
	return d.progressFeed.Subscribe(ch)
}

// Dispatch runs one simulation request to a terminal outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req CallRequest) (*CallResult, error) {
	start := time.Now()

	if req.GasLimit > d.cfg.GasCap {
		err := &GasLimitExceededError{Requested: req.GasLimit, Cap: d.cfg.GasCap}
		d.record(ctx, req, nil, 0, err, time.Since(start))
		return nil, err
	}

	plan, err := PlanChunks(req.GasLimit, d.cfg.ChunkGas, d.cfg.ChunkingThreshold, d.cfg.MaxChunks, time.Duration(d.cfg.InterChunkDelay))
	if err != nil {
		d.record(ctx, req, nil, 0, err, time.Since(start))
		return nil, err
	}

	var result *CallResult
	if plan != nil {
		result, err = d.scheduler.Execute(ctx, req, *plan, d.executor)
		d.record(ctx, req, result, plan.ChunkCount, err, time.Since(start))
		return result, err
	}

	result, err = d.executeDirect(ctx, req)
	d.record(ctx, req, result, 0, err, time.Since(start))
	return result, err
}

// executeDirect runs the whole request as a single execution under one
// gas-scaled deadline.
func (d *Dispatcher) executeDirect(ctx context.Context, req CallRequest) (result *CallResult, err error) {
	ticket, gateErr := d.gate.Acquire()
	if gateErr != nil {
		d.logger.Warn("Call admission rejected", "method", req.Method, "gas", req.GasLimit, "err", gateErr)
		return nil, &ResourceExhaustedError{Gate: d.gate.Name(), Err: gateErr}
	}

	outcome := admission.Failed
	defer func() {
		ticket.Release(outcome)
	}()

	timeout := d.policy.Timeout(req.GasLimit)
	d.logger.Debug("Starting direct execution", "method", req.Method, "gas", req.GasLimit, "timeout", timeout)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	value, execErr := d.executor.ExecuteChunk(cctx, req, Chunk{Gas: req.GasLimit, Ceiling: req.GasLimit})
	elapsed := time.Since(start)

	switch {
	case execErr == nil:
		outcome = admission.Completed
		return &CallResult{
			Value:           value,
			ChunksCompleted: 1,
			GasProcessed:    req.GasLimit,
			Elapsed:         elapsed,
		}, nil
	case errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil,
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = admission.TimedOut
		d.logger.Warn("Call timed out", "method", req.Method, "gas", req.GasLimit, "timeout", timeout)
		return &CallResult{Elapsed: elapsed}, &CallTimeoutError{Timeout: timeout, Gas: req.GasLimit}
	default:
		// outcome stays Failed; the executor error is the cause.
		return &CallResult{Elapsed: elapsed}, execErr
	}
}

// record persists the terminal outcome to the audit store, best effort.
func (d *Dispatcher) record(ctx context.Context, req CallRequest, result *CallResult, chunkCount int, callErr error, elapsed time.Duration) {
	if d.audit == nil {
		return
	}

	rec := &audit.CallRecord{
		Method:     req.Method.String(),
		GasLimit:   req.GasLimit,
		ChunkCount: chunkCount,
		DurationMS: elapsed.Milliseconds(),
		Status:     statusOf(callErr),
	}
	if result != nil {
		rec.ChunksCompleted = result.ChunksCompleted
		rec.GasProcessed = result.GasProcessed
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}

	if err := d.audit.AddCallRecord(ctx, rec); err != nil {
		d.logger.Warn("Failed to record call outcome", "method", req.Method, "err", err)
	}
}

func statusOf(err error) string {
	var (
		timeoutErr   *CallTimeoutError
		dbTimeoutErr *DBReadTimeoutError
		rejectedErr  *ResourceExhaustedError
	)
	switch {
	case err == nil:
		return audit.StatusOK
	case errors.As(err, &timeoutErr), errors.As(err, &dbTimeoutErr):
		return audit.StatusTimeout
	case errors.As(err, &rejectedErr):
		return audit.StatusRejected
	default:
		return audit.StatusFailed
	}
}
