package reader

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/chain-reader/internal/chaindata"
	"github.com/yourorg/chain-reader/internal/otel"
	"github.com/yourorg/chain-reader/internal/types"
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// pricing is where an asset's price is read.
type pricing struct {
	chainID uint64
	asset   common.Address
}

func (r *Reader) pricingFor(chainID uint64, asset common.Address) pricing {
	if eq, ok := r.metadata.MainnetEquivalent(chainID, asset); ok {
		return pricing{chainID: types.ChainIDMainnet, asset: eq}
	}
	return pricing{chainID: chainID, asset: asset}
}

func (r *Reader) hasL1DataFee(chainID uint64) bool {
	cfg, _ := r.chains.Chain(chainID)
	return cfg.HasL1DataFee(chainID)
}

// CalculateGasFee returns the cost of running method on chainID expressed in
// asset units with the given decimals. It is zero when either price cannot
// be read from an oracle, or when the asset's price is zero.
func (r *Reader) CalculateGasFee(
	ctx context.Context,
	chainID uint64,
	asset common.Address,
	decimals uint8,
	method types.GasMethod,
	params types.CallDataParams,
) (fee *big.Int, err error) {
	ctx, span := otel.Tracer().Start(ctx, "reader.CalculateGasFee", trace.WithAttributes(
		attribute.Int64("chain.id", int64(chainID)),
		attribute.String("gas.method", string(method)),
	))
	defer span.End()

	outcome := "success"
	defer func() {
		if err != nil {
			outcome = "error"
			otel.RecordError(ctx, err)
		}
		r.metrics.FeeCalculation(string(method), outcome)
	}()

	if !method.Valid() {
		return nil, fmt.Errorf("unknown gas method %q", method)
	}
	if decimals > 18 {
		return nil, fmt.Errorf("decimals must be at most 18, got %d", decimals)
	}

	token := r.pricingFor(chainID, asset)
	native := r.pricingFor(chainID, common.Address{})
	if !r.oracles.Has(token.chainID) || !r.oracles.Has(native.chainID) {
		outcome = "no_oracle"
		logrus.WithFields(logrus.Fields{
			"chain":       chainID,
			"asset":       asset.Hex(),
			"priceChain":  token.chainID,
			"nativeChain": native.chainID,
		}).Debug("No price oracle, gas fee is zero")
		return big.NewInt(0), nil
	}

	limits := r.metadata.GasLimits(chainID)
	if limits.GasPriceFactor == nil || limits.GasPriceFactor.Sign() <= 0 {
		limits.GasPriceFactor = chaindata.DefaultGasPriceFactor
	}
	withL1 := r.hasL1DataFee(chainID)

	var (
		nativePrice, tokenPrice, gasPrice *big.Int
		mainnetGasPrice                   = big.NewInt(0)
		callGas                           = big.NewInt(0)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nativePrice, err = r.GetTokenPrice(gctx, native.chainID, native.asset, types.BlockTagLatest)
		return err
	})
	g.Go(func() error {
		var err error
		tokenPrice, err = r.GetTokenPrice(gctx, token.chainID, token.asset, types.BlockTagLatest)
		return err
	})
	g.Go(func() error {
		var err error
		gasPrice, err = r.GetGasPrice(gctx, chainID)
		return err
	})
	if withL1 {
		g.Go(func() error {
			var err error
			mainnetGasPrice, err = r.GetGasPrice(gctx, types.ChainIDMainnet)
			return err
		})
	}
	if method == types.MethodExecute {
		switch {
		case params.CallDataGas != nil:
			callGas = new(big.Int).Set(params.CallDataGas)
		case len(params.CallData) > 0 && params.CallTo != (common.Address{}):
			g.Go(func() error {
				tx := types.WriteTransaction{ReadTransaction: types.ReadTransaction{
					ChainID: chainID,
					To:      params.CallTo,
					Data:    params.CallData,
				}}
				var err error
				callGas, err = r.GetGasEstimateWithRevertCode(gctx, chainID, tx)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l1Gas := big.NewInt(0)
	if withL1 {
		l1Gas.SetUint64(limits.L1(method))
	}
	gasLimit := new(big.Int).SetUint64(limits.Base(method))
	gasLimit.Add(gasLimit, callGas)

	fee = computeFee(feeInputs{
		GasPrice:        gasPrice,
		GasPriceFactor:  limits.GasPriceFactor,
		GasLimit:        gasLimit,
		MainnetGasPrice: mainnetGasPrice,
		L1GasLimit:      l1Gas,
		NativePrice:     nativePrice,
		TokenPrice:      tokenPrice,
		Decimals:        decimals,
	})

	logrus.WithFields(logrus.Fields{
		"chain":           chainID,
		"method":          method,
		"asset":           asset.Hex(),
		"priceChain":      token.chainID,
		"tokenPrice":      tokenPrice.String(),
		"nativePrice":     nativePrice.String(),
		"gasPrice":        gasPrice.String(),
		"gasPriceFactor":  limits.GasPriceFactor.String(),
		"gasLimit":        gasLimit.String(),
		"mainnetGasPrice": mainnetGasPrice.String(),
		"fee":             fee.String(),
	}).Info("Calculated gas fee")

	return fee, nil
}

// CalculateGasFeeInReceivingToken prices the xcall on the sending chain and
// the execute on the receiving chain, both in receiving asset decimals, and
// returns their sum.
func (r *Reader) CalculateGasFeeInReceivingToken(
	ctx context.Context,
	sendingChainID uint64,
	sendingAsset common.Address,
	receivingChainID uint64,
	receivingAsset common.Address,
	outputDecimals uint8,
) (*big.Int, error) {
	var sendingFee, receivingFee *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sendingFee, err = r.CalculateGasFee(gctx, sendingChainID, sendingAsset, outputDecimals, types.MethodXCall, types.CallDataParams{})
		return err
	})
	g.Go(func() error {
		var err error
		receivingFee, err = r.CalculateGasFee(gctx, receivingChainID, receivingAsset, outputDecimals, types.MethodExecute, types.CallDataParams{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return new(big.Int).Add(sendingFee, receivingFee), nil
}

// CalculateGasFeeInReceivingTokenForFulfill prices only the execute on the
// receiving chain, including the destination call.
func (r *Reader) CalculateGasFeeInReceivingTokenForFulfill(
	ctx context.Context,
	receivingChainID uint64,
	receivingAsset common.Address,
	outputDecimals uint8,
	params types.CallDataParams,
) (*big.Int, error) {
	return r.CalculateGasFee(ctx, receivingChainID, receivingAsset, outputDecimals, types.MethodExecute, params)
}

type feeInputs struct {
	GasPrice        *big.Int
	GasPriceFactor  *big.Int
	GasLimit        *big.Int
	MainnetGasPrice *big.Int
	L1GasLimit      *big.Int
	NativePrice     *big.Int
	TokenPrice      *big.Int
	Decimals        uint8
}

// computeFee converts gas into asset units. Prices carry 18 decimals; integer
// division truncates at each step.
func computeFee(in feeInputs) *big.Int {
	if in.TokenPrice.Sign() == 0 {
		return big.NewInt(0)
	}

	impacted := new(big.Int).Mul(in.GasPrice, wad)
	impacted.Quo(impacted, in.GasPriceFactor)

	usd := new(big.Int).Mul(impacted, in.GasLimit)
	usd.Mul(usd, in.NativePrice)

	l1 := new(big.Int).Mul(in.MainnetGasPrice, in.L1GasLimit)
	l1.Mul(l1, in.NativePrice)
	usd.Add(usd, l1)

	fee := usd.Quo(usd, in.TokenPrice)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-int(in.Decimals))), nil)
	return fee.Quo(fee, scale)
}
