package gascall

import (
	"time"
)

// TimeoutPolicy maps a gas budget to an execution deadline. Simulation calls
// may carry gas limits in the billions; a flat deadline either kills those
// calls or keeps storage read transactions open far too long for everything
// else. The policy is a pure function and safe for concurrent use.
type TimeoutPolicy struct {
	base        time.Duration
	max         time.Duration
	capGas      uint64
	progressive bool
}

// NewTimeoutPolicy builds the policy from a sanitized Config.
func NewTimeoutPolicy(cfg Config) TimeoutPolicy {
	return TimeoutPolicy{
		base:        time.Duration(cfg.BaseTimeout),
		max:         time.Duration(cfg.MaxTimeout),
		capGas:      cfg.GasCap,
		progressive: cfg.ProgressiveTimeout,
	}
}

// Timeout returns the deadline for a call with the given gas budget.
//
// With progressive scaling disabled every call gets the base deadline; calls
// above what the base deadline can execute then legitimately fail on timeout,
// which is the intended fallback. Otherwise the deadline is piecewise linear
// and monotonic in gas:
//
//	gas <= 1M          base
//	1M < gas <= 100M   base .. 10*base, linear
//	100M < gas <= cap  10*base .. max, linear
//	gas > cap          max
//
// The unclamped value is computed first and then bounded by the max timeout,
// which keeps the curve continuous and non-decreasing even when the
// configured max is below ten times the base.
func (p TimeoutPolicy) Timeout(gas uint64) time.Duration {
	if !p.progressive {
		return p.base
	}

	base := float64(p.base)
	var d float64
	switch {
	case gas <= LowGasBreakpoint:
		d = base
	case gas <= HighGasBreakpoint:
		frac := float64(gas-LowGasBreakpoint) / float64(HighGasBreakpoint-LowGasBreakpoint)
		d = base * (1 + 9*frac)
	case gas <= p.capGas:
		frac := float64(gas-HighGasBreakpoint) / float64(p.capGas-HighGasBreakpoint)
		d = base*10 + (float64(p.max)-base*10)*frac
	default:
		d = float64(p.max)
	}

	if limit := float64(p.max); d > limit {
		d = limit
	}
	return time.Duration(d)
}
