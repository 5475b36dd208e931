package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-reader/internal/gasstation"
	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/rpcpool/rpcpooltest"
	"github.com/yourorg/chain-reader/internal/types"
)

var (
	oracle = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newAggregator(t *testing.T, opts Options, clients ...*rpcpooltest.Client) *Aggregator {
	t.Helper()
	specs := make([]rpcpool.EndpointSpec, 0, len(clients))
	for i, c := range clients {
		specs = append(specs, rpcpool.EndpointSpec{URL: "https://rpc" + string(rune('a'+i)) + ".example.org", Client: c})
	}
	pool, err := rpcpool.New(1337, specs, rpcpool.Options{})
	require.NoError(t, err)
	return New(1337, pool, opts)
}

func newStation(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func errorStringRevert(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	return append(append([]byte{}, errorSelector...), packed...)
}

func panicRevert(t *testing.T, code int64) []byte {
	t.Helper()
	uintTy, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: uintTy}}.Pack(big.NewInt(code))
	require.NoError(t, err)
	return append(append([]byte{}, panicSelector...), packed...)
}

func TestExecute_FailsOverToNextEndpoint(t *testing.T) {
	failing := &rpcpooltest.Client{
		BlockNumberFn: func(ctx context.Context) (uint64, error) {
			return 0, errors.New("connection refused")
		},
	}
	healthy := &rpcpooltest.Client{
		BlockNumberFn: func(ctx context.Context) (uint64, error) {
			return 42, nil
		},
	}
	a := newAggregator(t, Options{}, failing, healthy)

	n, err := a.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
	assert.Equal(t, 1, failing.Calls("BlockNumber"), "First endpoint should be tried once")
	assert.Equal(t, 1, healthy.Calls("BlockNumber"), "Second endpoint should answer")

	eps := a.Pool().Endpoints()
	assert.Equal(t, 1, eps[0].Health().ConsecutiveFailures)
	assert.Equal(t, uint64(42), eps[1].Health().LastBlock, "Answering endpoint height should be recorded")
}

func TestExecute_RateLimitedHTTPEndpointFailsOverImmediately(t *testing.T) {
	var limitedHits atomic.Int32
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limitedHits.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(limited.Close)

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"0x2a"}`))
	}))
	t.Cleanup(healthy.Close)

	ctx := context.Background()
	specs := make([]rpcpool.EndpointSpec, 0, 2)
	for _, u := range []string{limited.URL, healthy.URL} {
		client, err := rpcpool.Dial(ctx, u)
		require.NoError(t, err)
		specs = append(specs, rpcpool.EndpointSpec{URL: u, Client: client})
	}
	pool, err := rpcpool.New(1337, specs, rpcpool.Options{})
	require.NoError(t, err)
	a := New(1337, pool, Options{AttemptTimeout: 3 * time.Second})
	t.Cleanup(a.Close)

	start := time.Now()
	n, err := a.GetBlockNumber(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
	assert.Less(t, elapsed, time.Second, "Retry-After must not hold up failover")
	assert.Equal(t, int32(1), limitedHits.Load(), "A throttled endpoint gets no second request")

	h := pool.Endpoints()[0].Health()
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.Contains(t, h.LastError, "429")
}

func TestExecute_AllEndpointsFail(t *testing.T) {
	clients := make([]*rpcpooltest.Client, 3)
	for i := range clients {
		clients[i] = &rpcpooltest.Client{
			SuggestGasPriceFn: func(ctx context.Context) (*big.Int, error) {
				return nil, rpcpooltest.RateLimited()
			},
		}
	}
	a := newAggregator(t, Options{}, clients...)

	price, err := a.GetGasPrice(context.Background())
	assert.Nil(t, price, "No default value on failure")

	var rpcErr *types.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, uint64(1337), rpcErr.ChainID)
	assert.Equal(t, MethodGasPrice, rpcErr.Method)
	assert.Equal(t, 3, rpcErr.Attempts)
	assert.Contains(t, rpcErr.Cause.Error(), "limit exceeded")
	for i, c := range clients {
		assert.Equal(t, 1, c.Calls("SuggestGasPrice"), "endpoint %d should be tried exactly once", i)
	}
}

func TestExecute_RevertFailsFast(t *testing.T) {
	data := errorStringRevert(t, "price unavailable")
	first := &rpcpooltest.Client{
		CallContractFn: func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
			return nil, rpcpooltest.Revert(data)
		},
	}
	second := &rpcpooltest.Client{}
	a := newAggregator(t, Options{}, first, second)

	_, err := a.ReadContract(context.Background(), types.ReadTransaction{ChainID: 1337, To: oracle}, types.BlockTagLatest)

	var revert *types.RevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, data, revert.Data)
	assert.Equal(t, MethodCall, revert.Method)
	assert.Equal(t, 0, second.TotalCalls(), "A revert must not be retried elsewhere")
	assert.Equal(t, 0, a.Pool().Endpoints()[0].Health().ConsecutiveFailures, "A revert does not count against the endpoint")
}

func TestExecute_NotFoundIsDefinitive(t *testing.T) {
	first := &rpcpooltest.Client{
		TransactionReceiptFn: func(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
			return nil, ethereum.NotFound
		},
	}
	second := &rpcpooltest.Client{}
	a := newAggregator(t, Options{}, first, second)

	_, err := a.GetTransactionReceipt(context.Background(), common.HexToHash("0x01"))

	var rejected *types.RequestRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.ErrorIs(t, err, ethereum.NotFound)
	assert.Equal(t, 0, second.TotalCalls())
}

func TestExecute_AttemptTimeoutIsTransient(t *testing.T) {
	slow := &rpcpooltest.Client{
		BlockNumberFn: func(ctx context.Context) (uint64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	fast := &rpcpooltest.Client{
		BlockNumberFn: func(ctx context.Context) (uint64, error) {
			return 7, nil
		},
	}
	a := newAggregator(t, Options{AttemptTimeout: 20 * time.Millisecond}, slow, fast)

	n, err := a.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.Equal(t, 1, a.Pool().Endpoints()[0].Health().ConsecutiveFailures, "Timed out endpoint should be charged")
}

func TestExecute_CallerCancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &rpcpooltest.Client{
		BlockNumberFn: func(ctx context.Context) (uint64, error) {
			cancel()
			return 0, ctx.Err()
		},
	}
	second := &rpcpooltest.Client{}
	a := newAggregator(t, Options{}, first, second)

	_, err := a.GetBlockNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.TotalCalls(), "No further endpoints after the caller gave up")
	assert.Equal(t, 0, a.Pool().Endpoints()[0].Health().ConsecutiveFailures, "Aborted attempts are not the endpoint's fault")
}

func TestReadContract_BlockHash(t *testing.T) {
	hash := common.HexToHash("0xabcdef")
	var gotHash common.Hash
	c := &rpcpooltest.Client{
		CallContractAtHashFn: func(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error) {
			gotHash = blockHash
			return []byte{0x01}, nil
		},
	}
	a := newAggregator(t, Options{}, c)

	out, err := a.ReadContract(context.Background(), types.ReadTransaction{To: oracle}, types.BlockTag(hash.Hex()))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, out)
	assert.Equal(t, hash, gotHash)
	assert.Equal(t, 0, c.Calls("CallContract"))
}

func TestReadContract_InvalidTagMakesNoCall(t *testing.T) {
	c := &rpcpooltest.Client{}
	a := newAggregator(t, Options{}, c)

	_, err := a.ReadContract(context.Background(), types.ReadTransaction{To: oracle}, types.BlockTag("yesterday"))
	assert.Error(t, err)
	assert.Equal(t, 0, c.TotalCalls())
}

func TestGetBalance(t *testing.T) {
	account := common.HexToAddress("0x01")
	c := &rpcpooltest.Client{
		BalanceAtFn: func(ctx context.Context, acc common.Address, blockNumber *big.Int) (*big.Int, error) {
			return big.NewInt(5), nil
		},
		CallContractFn: func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
			return common.LeftPadBytes(big.NewInt(9).Bytes(), 32), nil
		},
	}
	a := newAggregator(t, Options{}, c)

	native, err := a.GetBalance(context.Background(), account, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), native.Int64())

	erc20, err := a.GetBalance(context.Background(), account, token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), erc20.Int64())
	assert.Equal(t, 1, c.Calls("CallContract"))
}

func TestGetDecimalsForAsset(t *testing.T) {
	c := &rpcpooltest.Client{
		CallContractFn: func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
			return common.LeftPadBytes([]byte{6}, 32), nil
		},
	}
	a := newAggregator(t, Options{}, c)

	native, err := a.GetDecimalsForAsset(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, NativeDecimals, native)
	assert.Equal(t, 0, c.TotalCalls(), "Native decimals need no call")

	decimals, err := a.GetDecimalsForAsset(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)
}

func TestGetDecimalsForAsset_MalformedResponse(t *testing.T) {
	c := &rpcpooltest.Client{
		CallContractFn: func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
			return []byte{0x01}, nil
		},
	}
	a := newAggregator(t, Options{}, c)

	_, err := a.GetDecimalsForAsset(context.Background(), token)
	var rejected *types.RequestRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestGetGasPrice_PrefersGasStation(t *testing.T) {
	station := newStation(t, `{"fast": 12}`)
	c := &rpcpooltest.Client{}
	a := newAggregator(t, Options{GasStations: gasstation.New([]string{station})}, c)

	price, err := a.GetGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12000000000", price.String())
	assert.Equal(t, 0, c.TotalCalls())
}

func TestGetBlockTime(t *testing.T) {
	c := &rpcpooltest.Client{
		HeaderByNumberFn: func(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
			return &ethtypes.Header{Number: big.NewInt(100), Time: 1_700_000_000}, nil
		},
	}
	a := newAggregator(t, Options{}, c)

	ts, err := a.GetBlockTime(context.Background(), types.BlockTagLatest)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), ts.Unix())
	assert.Equal(t, uint64(100), a.Pool().Endpoints()[0].Health().LastBlock)
}

func TestGetCode_RejectsBlockHash(t *testing.T) {
	c := &rpcpooltest.Client{}
	a := newAggregator(t, Options{}, c)

	_, err := a.GetCode(context.Background(), token, types.BlockTag(common.HexToHash("0x01").Hex()))
	assert.Error(t, err)
	assert.Equal(t, 0, c.TotalCalls())
}

func TestEstimateGasWithRevertCode(t *testing.T) {
	c := &rpcpooltest.Client{
		EstimateGasFn: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
			return 0, rpcpooltest.Revert(errorStringRevert(t, "insufficient allowance"))
		},
	}
	a := newAggregator(t, Options{}, c)

	tx := types.WriteTransaction{ReadTransaction: types.ReadTransaction{To: token, Data: []byte{0x01}}}
	_, err := a.EstimateGasWithRevertCode(context.Background(), tx)

	var revert *types.RevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, "insufficient allowance", revert.Reason)
	assert.Equal(t, MethodEstimateGas, revert.Method)
}

func TestGetGasEstimate(t *testing.T) {
	c := &rpcpooltest.Client{
		EstimateGasFn: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
			return 21000, nil
		},
	}
	a := newAggregator(t, Options{}, c)

	gas, err := a.GetGasEstimate(context.Background(), types.WriteTransaction{ReadTransaction: types.ReadTransaction{To: token}})
	require.NoError(t, err)
	assert.Equal(t, int64(21000), gas.Int64())
}

func TestDecodeRevertReason(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, ""},
		{"error string", errorStringRevert(t, "nope"), "nope"},
		{"arithmetic panic", panicRevert(t, 0x11), "panic 0x11: arithmetic overflow or underflow"},
		{"unknown panic", panicRevert(t, 0x99), "panic 0x99: unknown panic"},
		{"custom error", []byte{0xde, 0xad, 0xbe, 0xef, 0x00}, "custom error 0xdeadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeRevertReason(tt.data))
		})
	}
}

func TestClassify(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want rpcpool.FailureKind
	}{
		{"caller cancelled", done, errors.New("anything"), rpcpool.FailureAborted},
		{"attempt deadline", live, context.DeadlineExceeded, rpcpool.FailureTransient},
		{"revert", live, rpcpooltest.Revert([]byte{0x01, 0x02, 0x03, 0x04}), rpcpool.FailureDefinitive},
		{"revert by message", live, errors.New("execution reverted: paused"), rpcpool.FailureDefinitive},
		{"not found", live, ethereum.NotFound, rpcpool.FailureDefinitive},
		{"http error", live, rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, rpcpool.FailureTransient},
		{"rate limited", live, rpcpooltest.RateLimited(), rpcpool.FailureTransient},
		{"lagging node", live, &rpcpooltest.JSONRPCError{Code: -32000, Message: "header not found"}, rpcpool.FailureTransient},
		{"invalid params", live, &rpcpooltest.JSONRPCError{Code: -32602, Message: "invalid argument 0"}, rpcpool.FailureDefinitive},
		{"insufficient funds", live, &rpcpooltest.JSONRPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}, rpcpool.FailureDefinitive},
		{"transport", live, errors.New("dial tcp: connection refused"), rpcpool.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.ctx, tt.err))
		})
	}
}
