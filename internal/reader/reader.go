// Package reader is the entry point for reading chain state and pricing
// cross-chain transfers. It routes each call to the aggregator of the
// requested chain.
package reader

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/chain-reader/internal/aggregator"
	"github.com/yourorg/chain-reader/internal/chaindata"
	"github.com/yourorg/chain-reader/internal/config"
	"github.com/yourorg/chain-reader/internal/contracts"
	"github.com/yourorg/chain-reader/internal/pricecache"
	"github.com/yourorg/chain-reader/internal/telemetry"
	"github.com/yourorg/chain-reader/internal/types"
)

// Chains resolves a chain id to its aggregator and configuration.
// *registry.Registry implements it.
type Chains interface {
	Get(chainID uint64) (*aggregator.Aggregator, error)
	Has(chainID uint64) bool
	Chain(chainID uint64) (config.ChainConfig, bool)
}

// ChainMetadata supplies mainnet equivalents and gas limits.
// *chaindata.Directory implements it.
type ChainMetadata interface {
	MainnetEquivalent(chainID uint64, asset common.Address) (common.Address, bool)
	GasLimits(chainID uint64) chaindata.GasLimits
}

// Options carries the collaborators of a Reader besides the chains.
type Options struct {
	Oracles  *contracts.OracleBook
	Metadata ChainMetadata
	Metrics  *telemetry.Metrics
}

// Reader reads chain state and computes gas fees.
type Reader struct {
	chains   Chains
	cache    *pricecache.Cache
	oracles  *contracts.OracleBook
	metadata ChainMetadata
	metrics  *telemetry.Metrics

	prices singleflight.Group
}

// New creates a Reader. A nil Metadata means default gas limits and no
// mainnet equivalents.
func New(chains Chains, cache *pricecache.Cache, opts Options) *Reader {
	if opts.Metadata == nil {
		opts.Metadata = (*chaindata.Directory)(nil)
	}
	return &Reader{
		chains:   chains,
		cache:    cache,
		oracles:  opts.Oracles,
		metadata: opts.Metadata,
		metrics:  opts.Metrics,
	}
}

// IsSupportedChain reports whether chainID has configured providers.
func (r *Reader) IsSupportedChain(chainID uint64) bool {
	return r.chains.Has(chainID)
}

// ReadTx performs a read-only call on the transaction's chain.
func (r *Reader) ReadTx(ctx context.Context, tx types.ReadTransaction, tag types.BlockTag) ([]byte, error) {
	agg, err := r.chains.Get(tx.ChainID)
	if err != nil {
		return nil, err
	}
	return agg.ReadContract(ctx, tx, tag)
}

// GetBalance returns the balance of address in asset, the zero address meaning native.
func (r *Reader) GetBalance(ctx context.Context, chainID uint64, address, asset common.Address) (*big.Int, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.GetBalance(ctx, address, asset)
}

// GetGasPrice returns the gas price of chainID in wei.
func (r *Reader) GetGasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.GetGasPrice(ctx)
}

// GetGasEstimate estimates the gas tx would use on chainID.
func (r *Reader) GetGasEstimate(ctx context.Context, chainID uint64, tx types.WriteTransaction) (*big.Int, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.GetGasEstimate(ctx, tx)
}

// GetGasEstimateWithRevertCode is GetGasEstimate with the revert reason decoded on failure.
func (r *Reader) GetGasEstimateWithRevertCode(ctx context.Context, chainID uint64, tx types.WriteTransaction) (*big.Int, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.EstimateGasWithRevertCode(ctx, tx)
}

// GetDecimalsForAsset returns the decimals of asset on chainID.
func (r *Reader) GetDecimalsForAsset(ctx context.Context, chainID uint64, asset common.Address) (uint8, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return 0, err
	}
	return agg.GetDecimalsForAsset(ctx, asset)
}

// GetBlock returns the header of the referenced block.
func (r *Reader) GetBlock(ctx context.Context, chainID uint64, tag types.BlockTag) (*ethtypes.Header, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.GetBlock(ctx, tag)
}

// GetBlockTime returns the timestamp of the referenced block.
func (r *Reader) GetBlockTime(ctx context.Context, chainID uint64, tag types.BlockTag) (time.Time, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return time.Time{}, err
	}
	return agg.GetBlockTime(ctx, tag)
}

// GetBlockNumber returns the current head of chainID.
func (r *Reader) GetBlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return 0, err
	}
	return agg.GetBlockNumber(ctx)
}

// GetTransactionReceipt returns the receipt of a mined transaction.
func (r *Reader) GetTransactionReceipt(ctx context.Context, chainID uint64, txHash common.Hash) (*ethtypes.Receipt, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.GetTransactionReceipt(ctx, txHash)
}

// GetCode returns the code deployed at address.
func (r *Reader) GetCode(ctx context.Context, chainID uint64, address common.Address, tag types.BlockTag) ([]byte, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return nil, err
	}
	return agg.GetCode(ctx, address, tag)
}

// IsBlockFinal reports whether blockNumber has the configured number of
// confirmations on chainID.
func (r *Reader) IsBlockFinal(ctx context.Context, chainID, blockNumber uint64) (bool, error) {
	agg, err := r.chains.Get(chainID)
	if err != nil {
		return false, err
	}
	head, err := agg.GetBlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head >= blockNumber && head-blockNumber >= agg.Confirmations(), nil
}
