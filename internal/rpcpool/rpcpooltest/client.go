// Package rpcpooltest provides a scriptable rpcpool.Client for tests.
package rpcpooltest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/yourorg/chain-reader/internal/rpcpool"
)

// Client answers each method with the matching Fn field and counts calls.
// A method without a stub fails with a transient-looking error.
type Client struct {
	CallContractFn       func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CallContractAtHashFn func(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error)
	BalanceAtFn          func(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPriceFn    func(ctx context.Context) (*big.Int, error)
	HeaderByNumberFn     func(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	HeaderByHashFn       func(ctx context.Context, hash common.Hash) (*ethtypes.Header, error)
	BlockNumberFn        func(ctx context.Context) (uint64, error)
	TransactionReceiptFn func(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CodeAtFn             func(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	EstimateGasFn        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	mu     sync.Mutex
	calls  map[string]int
	closed bool
}

var _ rpcpool.Client = (*Client)(nil)

// Calls returns how many times method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of invocations across all methods.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[method]++
}

func unstubbed(method string) error {
	return fmt.Errorf("rpcpooltest: %s not stubbed", method)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.record("CallContract")
	if c.CallContractFn == nil {
		return nil, unstubbed("CallContract")
	}
	return c.CallContractFn(ctx, msg, blockNumber)
}

func (c *Client) CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error) {
	c.record("CallContractAtHash")
	if c.CallContractAtHashFn == nil {
		return nil, unstubbed("CallContractAtHash")
	}
	return c.CallContractAtHashFn(ctx, msg, blockHash)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.record("BalanceAt")
	if c.BalanceAtFn == nil {
		return nil, unstubbed("BalanceAt")
	}
	return c.BalanceAtFn(ctx, account, blockNumber)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.record("SuggestGasPrice")
	if c.SuggestGasPriceFn == nil {
		return nil, unstubbed("SuggestGasPrice")
	}
	return c.SuggestGasPriceFn(ctx)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	c.record("HeaderByNumber")
	if c.HeaderByNumberFn == nil {
		return nil, unstubbed("HeaderByNumber")
	}
	return c.HeaderByNumberFn(ctx, number)
}

func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*ethtypes.Header, error) {
	c.record("HeaderByHash")
	if c.HeaderByHashFn == nil {
		return nil, unstubbed("HeaderByHash")
	}
	return c.HeaderByHashFn(ctx, hash)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.record("BlockNumber")
	if c.BlockNumberFn == nil {
		return 0, unstubbed("BlockNumber")
	}
	return c.BlockNumberFn(ctx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	c.record("TransactionReceipt")
	if c.TransactionReceiptFn == nil {
		return nil, unstubbed("TransactionReceipt")
	}
	return c.TransactionReceiptFn(ctx, txHash)
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.record("CodeAt")
	if c.CodeAtFn == nil {
		return nil, unstubbed("CodeAt")
	}
	return c.CodeAtFn(ctx, account, blockNumber)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.record("EstimateGas")
	if c.EstimateGasFn == nil {
		return 0, unstubbed("EstimateGas")
	}
	return c.EstimateGasFn(ctx, msg)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Factory returns a ClientFactory serving clients by URL.
func Factory(clients map[string]*Client) rpcpool.ClientFactory {
	return func(_ context.Context, rawURL string) (rpcpool.Client, error) {
		c, ok := clients[rawURL]
		if !ok {
			return nil, fmt.Errorf("rpcpooltest: no client for %s", rawURL)
		}
		return c, nil
	}
}

// JSONRPCError mimics an error object returned by a node.
// It satisfies rpc.Error and rpc.DataError.
type JSONRPCError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *JSONRPCError) Error() string          { return e.Message }
func (e *JSONRPCError) ErrorCode() int         { return e.Code }
func (e *JSONRPCError) ErrorData() interface{} { return e.Data }

// Revert returns the error a node gives for a reverted call with payload data.
func Revert(data []byte) error {
	return &JSONRPCError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(data)}
}

// RateLimited returns the error a node gives when throttling.
func RateLimited() error {
	return &JSONRPCError{Code: -32005, Message: "limit exceeded"}
}
