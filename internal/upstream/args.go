// Package upstream forwards simulation calls to the backing execution
// engine over JSON-RPC, one bounded sub-execution at a time.
package upstream

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallArgs is the transaction object of an eth_call or eth_estimateGas
// request. Fields are kept as raw JSON so unknown extensions pass through to
// the engine untouched; only the gas field is ever inspected or rewritten.
type CallArgs map[string]json.RawMessage

// Gas returns the requested gas limit, if the args carry one.
func (a CallArgs) Gas() (uint64, bool) {
	raw, ok := a["gas"]
	if !ok {
		return 0, false
	}
	var gas hexutil.Uint64
	if err := json.Unmarshal(raw, &gas); err != nil {
		return 0, false
	}
	return uint64(gas), true
}

// WithGas returns a copy of the args with the gas field set. The receiver is
// never mutated; chunked executions rewrite gas per sub-execution while the
// original request stays intact.
func (a CallArgs) WithGas(gas uint64) CallArgs {
	out := make(CallArgs, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	encoded, _ := json.Marshal(hexutil.Uint64(gas))
	out["gas"] = encoded
	return out
}

// Request is the payload forwarded through the dispatcher. Extra carries the
// positional parameters after the transaction object (block number, state
// override set, block overrides) exactly as the caller sent them.
type Request struct {
	Args  CallArgs
	Extra []json.RawMessage
}
