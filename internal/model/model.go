// Package model defines the request and response bodies of the HTTP API.
package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/types"
)

var validate = validator.New()

// GasFeeRequest asks for the cost of one method on one chain.
type GasFeeRequest struct {
	ChainID  uint64 `json:"chainId" validate:"required"`
	Asset    string `json:"asset" validate:"required,eth_addr"`
	Decimals *uint8 `json:"decimals" validate:"required,lte=18"`
	Method   string `json:"method" validate:"required,oneof=xcall execute"`
	DestinationCall
}

// ReceivingFeeRequest asks for the two-leg fee of a transfer.
type ReceivingFeeRequest struct {
	SendingChainID   uint64 `json:"sendingChainId" validate:"required"`
	SendingAsset     string `json:"sendingAsset" validate:"required,eth_addr"`
	ReceivingChainID uint64 `json:"receivingChainId" validate:"required"`
	ReceivingAsset   string `json:"receivingAsset" validate:"required,eth_addr"`
	OutputDecimals   *uint8 `json:"outputDecimals" validate:"required,lte=18"`
}

// FulfillFeeRequest asks for the execute fee on the receiving chain.
type FulfillFeeRequest struct {
	ReceivingChainID uint64 `json:"receivingChainId" validate:"required"`
	ReceivingAsset   string `json:"receivingAsset" validate:"required,eth_addr"`
	OutputDecimals   *uint8 `json:"outputDecimals" validate:"required,lte=18"`
	DestinationCall
}

// DestinationCall describes the destination call of an execute.
type DestinationCall struct {
	CallData    string `json:"callData,omitempty" validate:"omitempty,hexadecimal"`
	CallTo      string `json:"callTo,omitempty" validate:"omitempty,eth_addr"`
	CallDataGas string `json:"callDataGas,omitempty" validate:"omitempty,numeric"`
}

// Params converts the call description for the fee calculation.
func (c DestinationCall) Params() (types.CallDataParams, error) {
	var p types.CallDataParams
	if c.CallData != "" && c.CallData != "0x" {
		data, err := hexutil.Decode(c.CallData)
		if err != nil {
			return p, fmt.Errorf("callData: %w", err)
		}
		p.CallData = data
	}
	if c.CallTo != "" {
		p.CallTo = common.HexToAddress(c.CallTo)
	}
	if c.CallDataGas != "" {
		gas, ok := new(big.Int).SetString(c.CallDataGas, 10)
		if !ok || gas.Sign() < 0 {
			return p, fmt.Errorf("callDataGas must be a non-negative integer")
		}
		p.CallDataGas = gas
	}
	return p, nil
}

// Validate checks a request body, naming the first offending field.
func Validate(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s: failed %s check", lowerFirst(fe.Field()), fe.Tag())
	}
	return err
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// FeeQuote is a computed gas fee.
type FeeQuote struct {
	Fee          string `json:"fee"`
	FeeFormatted string `json:"feeFormatted"`
	Decimals     uint8  `json:"decimals"`
	CalculatedAt int64  `json:"calculatedAt"`
}

// NewFeeQuote formats fee, given in the asset's smallest unit.
func NewFeeQuote(fee *big.Int, decimals uint8) FeeQuote {
	return FeeQuote{
		Fee:          fee.String(),
		FeeFormatted: decimal.NewFromBigInt(fee, -int32(decimals)).String(),
		Decimals:     decimals,
		CalculatedAt: time.Now().Unix(),
	}
}

// TokenPrice is an oracle price, 18 decimals in USD.
type TokenPrice struct {
	ChainID  uint64 `json:"chainId"`
	Asset    string `json:"asset"`
	BlockTag string `json:"blockTag"`
	Price    string `json:"price"`
	PriceUSD string `json:"priceUsd"`
}

// NewTokenPrice builds the response for a price read.
func NewTokenPrice(chainID uint64, asset common.Address, tag types.BlockTag, price *big.Int) TokenPrice {
	return TokenPrice{
		ChainID:  chainID,
		Asset:    asset.Hex(),
		BlockTag: tag.String(),
		Price:    price.String(),
		PriceUSD: decimal.NewFromBigInt(price, -18).String(),
	}
}

// GasPrice is a chain's gas price.
type GasPrice struct {
	ChainID uint64 `json:"chainId"`
	Wei     string `json:"wei"`
	Gwei    string `json:"gwei"`
}

// NewGasPrice builds the response for a gas price read.
func NewGasPrice(chainID uint64, wei *big.Int) GasPrice {
	return GasPrice{
		ChainID: chainID,
		Wei:     wei.String(),
		Gwei:    decimal.NewFromBigInt(wei, -9).String(),
	}
}

// BlockNumber is a chain's head.
type BlockNumber struct {
	ChainID     uint64 `json:"chainId"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Decimals is an asset's decimals.
type Decimals struct {
	ChainID  uint64 `json:"chainId"`
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
}

// ChainSummary describes a configured chain.
type ChainSummary struct {
	ChainID       uint64 `json:"chainId"`
	Providers     int    `json:"providers"`
	Confirmations uint64 `json:"confirmations"`
	PriceOracle   string `json:"priceOracle,omitempty"`
	L1DataFee     bool   `json:"l1DataFee"`
}

// ChainStatus is the endpoint health of a chain.
type ChainStatus struct {
	ChainID      uint64                  `json:"chainId"`
	HighestBlock uint64                  `json:"highestBlock"`
	Endpoints    []rpcpool.EndpointStats `json:"endpoints"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}
