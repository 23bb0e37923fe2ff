package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/parsdextra/nanoreth/core/gascall"
	"github.com/parsdextra/nanoreth/core/gascall/gclog"
)

// caller is the subset of rpc.Client the executor needs.
type caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Client executes simulation chunks against the engine's JSON-RPC endpoint.
// It implements the dispatcher's Executor contract: each chunk becomes one
// upstream call whose gas limit is the chunk's cumulative ceiling, so the
// engine re-runs the transaction with progressively more gas while every
// individual request stays bounded.
type Client struct {
	conn   caller
	closer func()
	logger log.Logger
}

// Dial connects to the engine endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", url, err)
	}
	return &Client{
		conn:   conn,
		closer: conn.Close,
		logger: gclog.NewWith("upstream", url),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ExecuteChunk runs one bounded sub-execution upstream. The gas field of the
// forwarded transaction object is overwritten with the chunk ceiling; all
// other arguments pass through verbatim.
func (c *Client) ExecuteChunk(ctx context.Context, req gascall.CallRequest, chunk gascall.Chunk) (any, error) {
	request, ok := req.Payload.(*Request)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", req.Payload)
	}

	params := make([]any, 0, len(request.Extra)+1)
	params = append(params, request.Args.WithGas(chunk.Ceiling))
	for _, extra := range request.Extra {
		params = append(params, extra)
	}

	method := rpcMethod(req.Method)
	c.logger.Debug("Forwarding sub-execution", "method", method, "chunkIndex", chunk.Index, "gasCeiling", chunk.Ceiling)

	var result json.RawMessage
	if err := c.conn.CallContext(ctx, &result, method, params...); err != nil {
		return nil, err
	}
	return result, nil
}

// Combine folds per-chunk values into the caller-visible result. A call
// returns the output of the final, full-budget sub-execution; a gas estimate
// is the sum of the per-chunk estimates.
func (c *Client) Combine(req gascall.CallRequest, parts []any) (any, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no sub-execution results to combine")
	}

	if req.Method == gascall.MethodCall {
		return parts[len(parts)-1], nil
	}

	total := new(big.Int)
	for i, part := range parts {
		raw, ok := part.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("sub-execution %d returned %T, want raw JSON", i+1, part)
		}
		var estimate hexutil.Big
		if err := json.Unmarshal(raw, &estimate); err != nil {
			return nil, fmt.Errorf("decode gas estimate of sub-execution %d: %w", i+1, err)
		}
		total.Add(total, estimate.ToInt())
	}

	encoded, err := json.Marshal((*hexutil.Big)(total))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(encoded), nil
}

func rpcMethod(m gascall.Method) string {
	if m == gascall.MethodEstimateGas {
		return "eth_estimateGas"
	}
	return "eth_call"
}
