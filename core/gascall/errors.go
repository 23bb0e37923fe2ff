package gascall

import (
	"fmt"
	"time"
)

// JSON-RPC error codes for the controller's terminal failures, following the
// conventions of EIP-1474 and the error-code improvement proposal.
const (
	errCodeClientLimitExceeded = -38026
	errCodeResourceExhausted   = -32005
	errCodeInternalError       = -32603
)

// GasLimitExceededError rejects a request whose gas limit is above the
// configured cap. The request is refused before any resource is acquired.
type GasLimitExceededError struct {
	Requested uint64
	Cap       uint64
}

func (e *GasLimitExceededError) Error() string {
	return fmt.Sprintf("gas limit %d exceeds configured cap %d", e.Requested, e.Cap)
}

func (e *GasLimitExceededError) ErrorCode() int { return errCodeClientLimitExceeded }

// ResourceExhaustedError reports that an admission gate was full. There is
// no internal retry; whether and when to retry is the caller's policy.
type ResourceExhaustedError struct {
	Gate string
	Err  error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted on %q gate: %v", e.Gate, e.Err)
}

func (e *ResourceExhaustedError) ErrorCode() int { return errCodeResourceExhausted }

func (e *ResourceExhaustedError) Unwrap() error { return e.Err }

// CallTimeoutError reports that an execution exceeded its deadline. For a
// chunked run ChunkIndex identifies the chunk that expired; it is zero for a
// direct execution.
type CallTimeoutError struct {
	Timeout    time.Duration
	Gas        uint64
	ChunkIndex int
}

func (e *CallTimeoutError) Error() string {
	if e.ChunkIndex > 0 {
		return fmt.Sprintf("chunk %d timed out after %v (gas: %d)", e.ChunkIndex, e.Timeout, e.Gas)
	}
	return fmt.Sprintf("call execution timed out after %v (gas: %d)", e.Timeout, e.Gas)
}

func (e *CallTimeoutError) ErrorCode() int { return errCodeInternalError }

// DBReadTimeoutError reports that a storage read exceeded the configured
// read deadline.
type DBReadTimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *DBReadTimeoutError) Error() string {
	return fmt.Sprintf("storage read %q timed out after %v", e.Operation, e.Timeout)
}

func (e *DBReadTimeoutError) ErrorCode() int { return errCodeInternalError }

// ChunkExecutionError reports an executor failure mid-sequence. The
// remaining chunks were not run.
type ChunkExecutionError struct {
	Index int // 1-based index of the failing chunk
	Err   error
}

func (e *ChunkExecutionError) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Err)
}

func (e *ChunkExecutionError) ErrorCode() int { return errCodeInternalError }

func (e *ChunkExecutionError) Unwrap() error { return e.Err }

// ConfigError reports an invalid controller configuration, detected at
// construction time before any request is served.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid gascall configuration: %s", e.Reason)
}
