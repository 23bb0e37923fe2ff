// Package admission implements a non-blocking concurrency gate for
// resource-holding operations. Every in-flight operation owns a ticket;
// tickets are handed out only while the gate has free slots, so the number
// of simultaneous holders can never exceed the configured limit.
package admission

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrGateFull is returned by Acquire when every slot is taken. Callers are
// never queued; exhaustion is surfaced immediately so the caller can fail
// fast or apply its own retry policy.
var ErrGateFull = errors.New("admission gate at capacity")

// Outcome describes how the operation holding a ticket ended.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Stats is a point-in-time snapshot of a gate's counters.
type Stats struct {
	Active    int64  `json:"active"`    // tickets currently held
	Accepted  uint64 `json:"accepted"`  // acquires that were granted a ticket
	Rejected  uint64 `json:"rejected"`  // acquires refused because the gate was full
	Completed uint64 `json:"completed"` // tickets released with Completed
	TimedOut  uint64 `json:"timedOut"`  // tickets released with TimedOut
	Failed    uint64 `json:"failed"`    // tickets released with Failed
}

// SuccessRate reports the fraction of accepted operations that completed
// successfully. Returns 0 when nothing has been accepted yet.
func (s Stats) SuccessRate() float64 {
	if s.Accepted == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Accepted)
}

type gateMetrics struct {
	active   *metrics.Gauge
	accepted *metrics.Counter
	rejected *metrics.Counter
	timedOut *metrics.Counter
	failed   *metrics.Counter
}

func newGateMetrics(name string) gateMetrics {
	prefix := "gascall/admission/" + name + "/"
	return gateMetrics{
		active:   metrics.GetOrRegisterGauge(prefix+"active", nil),
		accepted: metrics.GetOrRegisterCounter(prefix+"accepted", nil),
		rejected: metrics.GetOrRegisterCounter(prefix+"rejected", nil),
		timedOut: metrics.GetOrRegisterCounter(prefix+"timeout", nil),
		failed:   metrics.GetOrRegisterCounter(prefix+"failed", nil),
	}
}

type (
	// Gate bounds the number of concurrently admitted operations. Acquire is
	// strictly non-blocking: it either grants a ticket immediately or reports
	// ErrGateFull. All counter access is safe under arbitrary concurrent
	// Acquire/Release/Snapshot traffic.
	Gate struct {
		name  string
		max   int64
		slots *semaphore.Weighted

		active    atomic.Int64
		accepted  atomic.Uint64
		rejected  atomic.Uint64
		completed atomic.Uint64
		timedOut  atomic.Uint64
		failed    atomic.Uint64

		metrics gateMetrics
	}

	// Ticket represents one granted slot. It must be released exactly once,
	// whatever the outcome of the operation; releasing twice is a programming
	// error and panics.
	Ticket struct {
		gate     *Gate
		released atomic.Bool
	}
)

// NewGate creates a gate admitting at most maxConcurrent simultaneous
// ticket holders. The name scopes the gate's metrics and log output.
func NewGate(name string, maxConcurrent int64) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Gate{
		name:    name,
		max:     maxConcurrent,
		slots:   semaphore.NewWeighted(maxConcurrent),
		metrics: newGateMetrics(name),
	}
}

// Name returns the gate identifier.
func (g *Gate) Name() string { return g.name }

// MaxConcurrent returns the configured slot count.
func (g *Gate) MaxConcurrent() int64 { return g.max }

// Acquire claims a slot. It never waits: when the gate is full the acquire
// is counted as rejected and ErrGateFull is returned.
func (g *Gate) Acquire() (*Ticket, error) {
	if !g.slots.TryAcquire(1) {
		g.rejected.Add(1)
		g.metrics.rejected.Inc(1)
		return nil, fmt.Errorf("%w: %q has %d operations in flight", ErrGateFull, g.name, g.active.Load())
	}

	g.accepted.Add(1)
	g.metrics.accepted.Inc(1)
	g.metrics.active.Update(g.active.Add(1))

	return &Ticket{gate: g}, nil
}

// Release returns the ticket's slot to the gate and records the outcome.
func (t *Ticket) Release(outcome Outcome) {
	if t.released.Swap(true) {
		panic("admission: ticket released twice")
	}

	g := t.gate
	switch outcome {
	case Completed:
		g.completed.Add(1)
	case TimedOut:
		g.timedOut.Add(1)
		g.metrics.timedOut.Inc(1)
	default:
		g.failed.Add(1)
		g.metrics.failed.Inc(1)
	}

	g.metrics.active.Update(g.active.Add(-1))
	g.slots.Release(1)
}

// Snapshot returns the current counter values. The individual loads are
// atomic; the snapshot as a whole is not required to be consistent across
// fields under concurrent traffic.
func (g *Gate) Snapshot() Stats {
	return Stats{
		Active:    g.active.Load(),
		Accepted:  g.accepted.Load(),
		Rejected:  g.rejected.Load(),
		Completed: g.completed.Load(),
		TimedOut:  g.timedOut.Load(),
		Failed:    g.failed.Load(),
	}
}
