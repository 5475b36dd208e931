package contracts

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/yourorg/chain-reader/internal/config"
)

// OracleBook knows where the price oracle is deployed on each chain.
// A nil book has no oracles.
type OracleBook struct {
	addrs map[uint64]common.Address
}

// NewOracleBook builds a book from chain id to oracle address. Zero addresses are dropped.
func NewOracleBook(addrs map[uint64]common.Address) *OracleBook {
	filtered := lo.PickBy(addrs, func(_ uint64, addr common.Address) bool {
		return addr != (common.Address{})
	})
	return &OracleBook{addrs: filtered}
}

// OracleBookFromChains collects the priceOracle entries of chain configuration.
func OracleBookFromChains(chains config.Chains) *OracleBook {
	addrs := map[uint64]common.Address{}
	for key, cfg := range chains {
		id, err := config.ParseChainID(key)
		if err != nil {
			continue
		}
		if addr, ok := cfg.PriceOracleAddress(); ok {
			addrs[id] = addr
		}
	}
	return NewOracleBook(addrs)
}

// Lookup returns the oracle address for a chain.
func (b *OracleBook) Lookup(chainID uint64) (common.Address, bool) {
	if b == nil {
		return common.Address{}, false
	}
	addr, ok := b.addrs[chainID]
	return addr, ok
}

// Has reports whether the chain has an oracle.
func (b *OracleBook) Has(chainID uint64) bool {
	_, ok := b.Lookup(chainID)
	return ok
}

// ChainIDs lists chains with an oracle in ascending order.
func (b *OracleBook) ChainIDs() []uint64 {
	if b == nil {
		return nil
	}
	ids := lo.Keys(b.addrs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
