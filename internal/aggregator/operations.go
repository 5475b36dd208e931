package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-reader/internal/contracts"
	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/types"
)

// JSON-RPC method names used for logs, metrics and error reporting.
const (
	MethodCall               = "eth_call"
	MethodGetBalance         = "eth_getBalance"
	MethodGasPrice           = "eth_gasPrice"
	MethodGetBlock           = "eth_getBlockByNumber"
	MethodGetBlockByHash     = "eth_getBlockByHash"
	MethodBlockNumber        = "eth_blockNumber"
	MethodTransactionReceipt = "eth_getTransactionReceipt"
	MethodGetCode            = "eth_getCode"
	MethodEstimateGas        = "eth_estimateGas"
)

// NativeDecimals is the decimals of every chain's native asset.
const NativeDecimals uint8 = 18

// ReadContract performs an eth_call of tx at the given block.
func (a *Aggregator) ReadContract(ctx context.Context, tx types.ReadTransaction, tag types.BlockTag) ([]byte, error) {
	ref, err := tag.Resolve()
	if err != nil {
		return nil, err
	}
	msg := tx.CallMsg()

	var out []byte
	err = a.execute(ctx, MethodCall, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		var err error
		if ref.Hash != nil {
			out, err = ep.Client().CallContractAtHash(ctx, msg, *ref.Hash)
		} else {
			out, err = ep.Client().CallContract(ctx, msg, ref.Number)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance returns the balance of account in asset. The zero address means
// the chain's native asset, anything else is read as an ERC-20.
func (a *Aggregator) GetBalance(ctx context.Context, account, asset common.Address) (*big.Int, error) {
	if asset == (common.Address{}) {
		var balance *big.Int
		err := a.execute(ctx, MethodGetBalance, func(ctx context.Context, ep *rpcpool.Endpoint) error {
			var err error
			balance, err = ep.Client().BalanceAt(ctx, account, nil)
			return err
		})
		return balance, err
	}

	data, err := contracts.EncodeBalanceOf(account)
	if err != nil {
		return nil, err
	}
	out, err := a.ReadContract(ctx, types.ReadTransaction{ChainID: a.chainID, To: asset, Data: data}, types.BlockTagLatest)
	if err != nil {
		return nil, err
	}
	balance, err := contracts.DecodeBalanceOf(out)
	if err != nil {
		return nil, a.malformed(MethodCall, err)
	}
	return balance, nil
}

// GetGasPrice returns the gas price in wei. Configured gas stations are asked
// first, the RPC endpoints only when every station fails.
func (a *Aggregator) GetGasPrice(ctx context.Context) (*big.Int, error) {
	if a.opts.GasStations.Configured() {
		price, err := a.opts.GasStations.GasPrice(ctx)
		if err == nil {
			return price, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.WithField("chain", a.chainID).Warnf("Falling back to RPC gas price: %v", err)
	}

	var price *big.Int
	err := a.execute(ctx, MethodGasPrice, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		var err error
		price, err = ep.Client().SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// GetDecimalsForAsset returns the decimals of asset, 18 for the native asset.
func (a *Aggregator) GetDecimalsForAsset(ctx context.Context, asset common.Address) (uint8, error) {
	if asset == (common.Address{}) {
		return NativeDecimals, nil
	}

	data, err := contracts.EncodeDecimals()
	if err != nil {
		return 0, err
	}
	out, err := a.ReadContract(ctx, types.ReadTransaction{ChainID: a.chainID, To: asset, Data: data}, types.BlockTagLatest)
	if err != nil {
		return 0, err
	}
	decimals, err := contracts.DecodeDecimals(out)
	if err != nil {
		return 0, a.malformed(MethodCall, err)
	}
	return decimals, nil
}

// GetBlock returns the header of the referenced block.
func (a *Aggregator) GetBlock(ctx context.Context, tag types.BlockTag) (*ethtypes.Header, error) {
	ref, err := tag.Resolve()
	if err != nil {
		return nil, err
	}

	method := MethodGetBlock
	if ref.Hash != nil {
		method = MethodGetBlockByHash
	}

	var header *ethtypes.Header
	err = a.execute(ctx, method, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		var err error
		if ref.Hash != nil {
			header, err = ep.Client().HeaderByHash(ctx, *ref.Hash)
		} else {
			header, err = ep.Client().HeaderByNumber(ctx, ref.Number)
		}
		if err == nil && ref.IsLatest() && header.Number != nil && header.Number.IsUint64() {
			ep.ObserveBlock(header.Number.Uint64())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// GetBlockTime returns the timestamp of the referenced block.
func (a *Aggregator) GetBlockTime(ctx context.Context, tag types.BlockTag) (time.Time, error) {
	header, err := a.GetBlock(ctx, tag)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// GetBlockNumber returns the current head. The answering endpoint's height is
// recorded for stale-endpoint demotion.
func (a *Aggregator) GetBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := a.execute(ctx, MethodBlockNumber, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		n, err := ep.Client().BlockNumber(ctx)
		if err != nil {
			return err
		}
		ep.ObserveBlock(n)
		number = n
		return nil
	})
	return number, err
}

// GetTransactionReceipt returns the receipt of a mined transaction.
// An unknown transaction fails definitively.
func (a *Aggregator) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := a.execute(ctx, MethodTransactionReceipt, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		var err error
		receipt, err = ep.Client().TransactionReceipt(ctx, txHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetCode returns the contract code at address. Block hashes are not
// accepted here.
func (a *Aggregator) GetCode(ctx context.Context, address common.Address, tag types.BlockTag) ([]byte, error) {
	ref, err := tag.Resolve()
	if err != nil {
		return nil, err
	}
	if ref.Hash != nil {
		return nil, fmt.Errorf("getCode does not accept a block hash: %s", tag)
	}

	var code []byte
	err = a.execute(ctx, MethodGetCode, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		var err error
		code, err = ep.Client().CodeAt(ctx, address, ref.Number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// GetGasEstimate estimates the gas tx would use. A reverting call fails with
// *types.RevertError carrying the raw revert data.
func (a *Aggregator) GetGasEstimate(ctx context.Context, tx types.WriteTransaction) (*big.Int, error) {
	msg := tx.CallMsg()

	var gas uint64
	err := a.execute(ctx, MethodEstimateGas, func(ctx context.Context, ep *rpcpool.Endpoint) error {
		var err error
		gas, err = ep.Client().EstimateGas(ctx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(gas), nil
}

// EstimateGasWithRevertCode is GetGasEstimate with the revert reason decoded
// into the returned error, Error(string), Panic(uint256) or a custom error
// selector.
func (a *Aggregator) EstimateGasWithRevertCode(ctx context.Context, tx types.WriteTransaction) (*big.Int, error) {
	gas, err := a.GetGasEstimate(ctx, tx)
	if err == nil {
		return gas, nil
	}
	var revert *types.RevertError
	if errors.As(err, &revert) {
		if reason := DecodeRevertReason(revert.Data); reason != "" {
			revert.Reason = reason
		}
	}
	return nil, err
}

func (a *Aggregator) malformed(method string, err error) error {
	return &types.RequestRejectedError{
		ChainID: a.chainID,
		Method:  method,
		Cause:   fmt.Errorf("malformed response: %w", err),
	}
}
