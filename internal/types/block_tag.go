package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// BlockTag is a block reference as callers pass it around: a named tag,
// a block number (hex or decimal) or a 32-byte block hash.
type BlockTag string

// Named block tags
const (
	BlockTagLatest    BlockTag = "latest"
	BlockTagPending   BlockTag = "pending"
	BlockTagSafe      BlockTag = "safe"
	BlockTagFinalized BlockTag = "finalized"
	BlockTagEarliest  BlockTag = "earliest"
)

// BlockNumberTag returns the tag for a concrete block number.
func BlockNumberTag(n uint64) BlockTag {
	return BlockTag(hexutil.EncodeUint64(n))
}

// BlockRef is a resolved block tag. Both fields nil means latest.
type BlockRef struct {
	Number *big.Int
	Hash   *common.Hash
}

// IsLatest reports whether the reference points at the chain head.
func (r BlockRef) IsLatest() bool {
	return r.Number == nil && r.Hash == nil
}

// String normalizes the tag so equal references produce equal strings.
func (t BlockTag) String() string {
	s := strings.ToLower(strings.TrimSpace(string(t)))
	if s == "" {
		return string(BlockTagLatest)
	}
	return s
}

// Resolve parses the tag into the form ethclient expects.
func (t BlockTag) Resolve() (BlockRef, error) {
	s := t.String()
	switch BlockTag(s) {
	case BlockTagLatest:
		return BlockRef{}, nil
	case BlockTagPending:
		return BlockRef{Number: big.NewInt(int64(rpc.PendingBlockNumber))}, nil
	case BlockTagSafe:
		return BlockRef{Number: big.NewInt(int64(rpc.SafeBlockNumber))}, nil
	case BlockTagFinalized:
		return BlockRef{Number: big.NewInt(int64(rpc.FinalizedBlockNumber))}, nil
	case BlockTagEarliest:
		return BlockRef{Number: big.NewInt(0)}, nil
	}

	if strings.HasPrefix(s, "0x") {
		digits := s[2:]
		if len(digits) == 2*common.HashLength {
			raw, err := hexutil.Decode(s)
			if err != nil {
				return BlockRef{}, fmt.Errorf("invalid block hash %q: %w", string(t), err)
			}
			hash := common.BytesToHash(raw)
			return BlockRef{Hash: &hash}, nil
		}
		n, ok := new(big.Int).SetString(digits, 16)
		if !ok || digits == "" {
			return BlockRef{}, fmt.Errorf("invalid block tag %q", string(t))
		}
		return BlockRef{Number: n}, nil
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return BlockRef{}, fmt.Errorf("invalid block tag %q", string(t))
	}
	return BlockRef{Number: n}, nil
}
