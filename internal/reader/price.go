package reader

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-reader/internal/contracts"
	"github.com/yourorg/chain-reader/internal/pricecache"
	"github.com/yourorg/chain-reader/internal/types"
)

// sharedLookupTimeout bounds an oracle read shared by concurrent callers.
// The read outlives any single caller's cancellation.
const sharedLookupTimeout = 30 * time.Second

// GetTokenPrice returns the USD price of asset on chainID with 18 decimals.
// A price read less than a minute ago is served from the cache. Concurrent
// misses for the same key share one oracle read; a caller giving up does not
// fail the others.
func (r *Reader) GetTokenPrice(ctx context.Context, chainID uint64, asset common.Address, tag types.BlockTag) (*big.Int, error) {
	key := pricecache.Key(chainID, asset, tag)
	if price, ok := r.cache.Get(key); ok {
		return price, nil
	}

	ch := r.prices.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()

		price, err := r.GetTokenPriceFromOnChain(lookupCtx, chainID, asset, tag)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(key, price); err != nil {
			logrus.WithField("key", key).Warnf("Failed to cache token price: %v", err)
		}
		return price, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logrus.WithField("key", key).Debug("Shared in-flight token price lookup")
		}
		return new(big.Int).Set(res.Val.(*big.Int)), nil
	}
}

// GetTokenPriceFromOnChain reads the price of asset from chainID's oracle,
// bypassing the cache. Chains without an oracle fail with
// *types.ChainNotSupportedError before any network call.
func (r *Reader) GetTokenPriceFromOnChain(ctx context.Context, chainID uint64, asset common.Address, tag types.BlockTag) (*big.Int, error) {
	oracle, ok := r.oracles.Lookup(chainID)
	if !ok {
		return nil, &types.ChainNotSupportedError{ChainID: chainID}
	}

	data, err := contracts.EncodeGetTokenPrice(asset)
	if err != nil {
		return nil, err
	}
	out, err := r.ReadTx(ctx, types.ReadTransaction{ChainID: chainID, To: oracle, Data: data}, tag)
	if err != nil {
		return nil, err
	}

	price, err := contracts.DecodeGetTokenPrice(out)
	if err != nil {
		return nil, &types.RequestRejectedError{ChainID: chainID, Method: "getTokenPrice", Cause: err}
	}
	return price, nil
}
