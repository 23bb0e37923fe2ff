package gascall

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/parsdextra/nanoreth/core/gascall/admission"
	"github.com/parsdextra/nanoreth/core/gascall/gclog"
)

// StoreReader wraps single storage read scopes with admission control and a
// read deadline. The execution engine must route every storage access made
// during a chunk through Do. The reader's gate is independent of the
// dispatch gate and independently sized.
type StoreReader struct {
	gate    *admission.Gate
	timeout time.Duration
	pacer   *rate.Limiter // nil when pacing is disabled
	logger  log.Logger
}

// NewStoreReader builds the reader from a sanitized Config.
func NewStoreReader(cfg Config) *StoreReader {
	var pacer *rate.Limiter
	if cfg.ReadsPerSecond > 0 {
		burst := int(cfg.ReadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.ReadsPerSecond), burst)
	}
	return &StoreReader{
		gate:    admission.NewGate("storage", cfg.MaxConcurrentReads),
		timeout: time.Duration(cfg.DBReadTimeout),
		pacer:   pacer,
		logger:  gclog.New(),
	}
}

// Stats returns a snapshot of the storage admission gate.
func (r *StoreReader) Stats() admission.Stats { return r.gate.Snapshot() }

// Do runs one storage read under the reader's gate and deadline. The read
// receives a context that expires at the deadline; when it expires the
// ticket is released and DBReadTimeoutError is surfaced immediately, without
// waiting for the read to actually stop. A read that cannot be interrupted
// keeps running until it honors its context; that residual hold is owned by
// the storage collaborator.
func (r *StoreReader) Do(ctx context.Context, name string, read func(ctx context.Context) error) error {
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	ticket, err := r.gate.Acquire()
	if err != nil {
		r.logger.Warn("Storage read rejected", "operation", name, "active", r.gate.Snapshot().Active)
		return &ResourceExhaustedError{Gate: r.gate.Name(), Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- read(cctx)
	}()

	select {
	case err := <-done:
		switch {
		case err == nil:
			ticket.Release(admission.Completed)
			return nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			ticket.Release(admission.TimedOut)
			r.logger.Warn("Storage read timed out", "operation", name, "timeout", r.timeout)
			return &DBReadTimeoutError{Operation: name, Timeout: r.timeout}
		default:
			ticket.Release(admission.Failed)
			return err
		}
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			ticket.Release(admission.TimedOut)
			r.logger.Warn("Storage read timed out", "operation", name, "timeout", r.timeout)
			return &DBReadTimeoutError{Operation: name, Timeout: r.timeout}
		}
		ticket.Release(admission.Failed)
		return ctx.Err()
	}
}
