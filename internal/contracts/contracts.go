// Package contracts encodes and decodes the few contract calls the reader
// makes: ERC-20 decimals and balanceOf, and the price oracle's getTokenPrice.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const priceOracleABI = `[
	{"inputs":[{"internalType":"address","name":"tokenAddress","type":"address"}],"name":"getTokenPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20       = mustParse(erc20ABI)
	priceOracle = mustParse(priceOracleABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid ABI: %v", err))
	}
	return parsed
}

// EncodeDecimals returns calldata for decimals().
func EncodeDecimals() ([]byte, error) {
	return erc20.Pack("decimals")
}

// DecodeDecimals decodes the return data of decimals().
func DecodeDecimals(out []byte) (uint8, error) {
	values, err := erc20.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("failed to decode decimals: %w", err)
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	return d, nil
}

// EncodeBalanceOf returns calldata for balanceOf(account).
func EncodeBalanceOf(account common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", account)
}

// DecodeBalanceOf decodes the return data of balanceOf.
func DecodeBalanceOf(out []byte) (*big.Int, error) {
	return unpackUint256(erc20, "balanceOf", out)
}

// EncodeGetTokenPrice returns calldata for getTokenPrice(asset).
func EncodeGetTokenPrice(asset common.Address) ([]byte, error) {
	return priceOracle.Pack("getTokenPrice", asset)
}

// DecodeGetTokenPrice decodes the price returned by the oracle.
func DecodeGetTokenPrice(out []byte) (*big.Int, error) {
	return unpackUint256(priceOracle, "getTokenPrice", out)
}

func unpackUint256(contract abi.ABI, method string, out []byte) (*big.Int, error) {
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s return type %T", method, values[0])
	}
	return n, nil
}
