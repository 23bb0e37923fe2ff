package upstream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parsdextra/nanoreth/core/gascall"
	"github.com/parsdextra/nanoreth/core/gascall/gclog"
)

type stubCaller struct {
	method string
	args   []any
	result json.RawMessage
	err    error
}

func (s *stubCaller) CallContext(_ context.Context, result any, method string, args ...any) error {
	s.method = method
	s.args = args
	if s.err != nil {
		return s.err
	}
	*(result.(*json.RawMessage)) = s.result
	return nil
}

func testClient(stub *stubCaller) *Client {
	return &Client{conn: stub, logger: gclog.New()}
}

func TestCallArgsGasRoundTrip(t *testing.T) {
	args := CallArgs{
		"to":   json.RawMessage(`"0x1111111111111111111111111111111111111111"`),
		"data": json.RawMessage(`"0xabcdef"`),
	}

	_, ok := args.Gas()
	assert.False(t, ok, "gas reported on args without one")

	withGas := args.WithGas(50_000_000)
	gas, ok := withGas.Gas()
	require.True(t, ok)
	assert.Equal(t, uint64(50_000_000), gas)

	// The original is untouched.
	_, ok = args.Gas()
	assert.False(t, ok)
	assert.Equal(t, json.RawMessage(`"0x2faf080"`), withGas["gas"])
}

func TestExecuteChunkOverridesGas(t *testing.T) {
	stub := &stubCaller{result: json.RawMessage(`"0x01"`)}
	client := testClient(stub)

	req := gascall.CallRequest{
		Method:   gascall.MethodCall,
		GasLimit: 300_000_000,
		Payload: &Request{
			Args:  CallArgs{"to": json.RawMessage(`"0x2222222222222222222222222222222222222222"`)},
			Extra: []json.RawMessage{json.RawMessage(`"latest"`)},
		},
	}

	value, err := client.ExecuteChunk(context.Background(), req, gascall.Chunk{Index: 2, Gas: 50_000_000, Ceiling: 100_000_000})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x01"`), value)

	assert.Equal(t, "eth_call", stub.method)
	require.Len(t, stub.args, 2)

	sent, ok := stub.args[0].(CallArgs)
	require.True(t, ok)
	gas, ok := sent.Gas()
	require.True(t, ok)
	assert.Equal(t, uint64(100_000_000), gas, "forwarded gas must be the chunk ceiling")
	assert.Equal(t, json.RawMessage(`"latest"`), stub.args[1])
}

func TestExecuteChunkEstimateGasMethod(t *testing.T) {
	stub := &stubCaller{result: json.RawMessage(`"0x5208"`)}
	client := testClient(stub)

	req := gascall.CallRequest{
		Method:  gascall.MethodEstimateGas,
		Payload: &Request{Args: CallArgs{}},
	}
	_, err := client.ExecuteChunk(context.Background(), req, gascall.Chunk{Ceiling: 21_000})
	require.NoError(t, err)
	assert.Equal(t, "eth_estimateGas", stub.method)
}

func TestExecuteChunkRejectsForeignPayload(t *testing.T) {
	client := testClient(&stubCaller{})
	_, err := client.ExecuteChunk(context.Background(), gascall.CallRequest{Payload: 42}, gascall.Chunk{})
	require.Error(t, err)
}

func TestCombineCallKeepsLastResult(t *testing.T) {
	client := testClient(&stubCaller{})

	value, err := client.Combine(gascall.CallRequest{Method: gascall.MethodCall}, []any{
		json.RawMessage(`"0x"`),
		json.RawMessage(`"0x"`),
		json.RawMessage(`"0xcafe"`),
	})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0xcafe"`), value)
}

func TestCombineEstimateGasSums(t *testing.T) {
	client := testClient(&stubCaller{})

	value, err := client.Combine(gascall.CallRequest{Method: gascall.MethodEstimateGas}, []any{
		json.RawMessage(`"0x5208"`), // 21000
		json.RawMessage(`"0x2710"`), // 10000
	})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x7918"`), value) // 31000
}

func TestCombineEmptyParts(t *testing.T) {
	client := testClient(&stubCaller{})
	_, err := client.Combine(gascall.CallRequest{Method: gascall.MethodCall}, nil)
	require.Error(t, err)
}
