// Package chaindata holds per-chain metadata: asset mainnet equivalents and
// the gas limits used for fee estimation.
package chaindata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-reader/internal/config"
	"github.com/yourorg/chain-reader/internal/types"
)

// Gas limit defaults for chains without gasEstimates
const (
	DefaultXCallGas     uint64 = 190000
	DefaultExecuteGas   uint64 = 200000
	DefaultXCallL1Gas   uint64 = 20623
	DefaultExecuteL1Gas uint64 = 13965
)

// DefaultGasPriceFactor leaves the gas price unchanged.
var DefaultGasPriceFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Quantity is a decimal integer written either as a JSON string or number.
type Quantity string

// UnmarshalJSON accepts "123" and 123.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quantity(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quantity must be a string or number: %w", err)
	}
	*q = Quantity(n.String())
	return nil
}

// Uint64 parses the quantity, returning def when empty or invalid.
func (q Quantity) Uint64(def uint64) uint64 {
	if q == "" {
		return def
	}
	n, err := strconv.ParseUint(string(q), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// AssetInfo describes an asset on a chain.
type AssetInfo struct {
	Symbol            string `json:"symbol"`
	MainnetEquivalent string `json:"mainnetEquivalent,omitempty"`
}

// GasEstimates are the hardcoded gas limits of a chain.
type GasEstimates struct {
	Prepare        Quantity `json:"prepare,omitempty"`
	Fulfill        Quantity `json:"fulfill,omitempty"`
	PrepareL1      Quantity `json:"prepareL1,omitempty"`
	FulfillL1      Quantity `json:"fulfillL1,omitempty"`
	GasPriceFactor Quantity `json:"gasPriceFactor,omitempty"`
}

// ChainData is one entry of the chain metadata list.
type ChainData struct {
	Name          string               `json:"name"`
	ChainID       uint64               `json:"chainId"`
	DomainID      Quantity             `json:"domainId,omitempty"`
	Confirmations uint64               `json:"confirmations,omitempty"`
	AssetID       map[string]AssetInfo `json:"assetId,omitempty"`
	GasEstimates  *GasEstimates        `json:"gasEstimates,omitempty"`
}

// GasLimits is the resolved gas limit table of a chain.
type GasLimits struct {
	XCall          uint64
	Execute        uint64
	XCallL1        uint64
	ExecuteL1      uint64
	GasPriceFactor *big.Int
}

// DefaultGasLimits returns the limits used for chains without metadata.
func DefaultGasLimits() GasLimits {
	return GasLimits{
		XCall:          DefaultXCallGas,
		Execute:        DefaultExecuteGas,
		XCallL1:        DefaultXCallL1Gas,
		ExecuteL1:      DefaultExecuteL1Gas,
		GasPriceFactor: new(big.Int).Set(DefaultGasPriceFactor),
	}
}

// Base returns the execution gas limit of method.
func (g GasLimits) Base(method types.GasMethod) uint64 {
	if method == types.MethodExecute {
		return g.Execute
	}
	return g.XCall
}

// L1 returns the L1 data posting gas limit of method.
func (g GasLimits) L1(method types.GasMethod) uint64 {
	if method == types.MethodExecute {
		return g.ExecuteL1
	}
	return g.XCallL1
}

// Directory indexes chain metadata by chain id. A nil Directory answers
// with defaults and knows no mainnet equivalents.
type Directory struct {
	chains map[uint64]ChainData
}

// NewDirectory indexes entries. Later entries win on duplicate chain ids.
func NewDirectory(entries []ChainData) *Directory {
	d := &Directory{chains: make(map[uint64]ChainData, len(entries))}
	for _, e := range entries {
		assets := make(map[string]AssetInfo, len(e.AssetID))
		for addr, info := range e.AssetID {
			assets[strings.ToLower(strings.TrimSpace(addr))] = info
		}
		e.AssetID = assets
		d.chains[e.ChainID] = e
	}
	return d
}

// Get returns the metadata of chainID.
func (d *Directory) Get(chainID uint64) (ChainData, bool) {
	if d == nil {
		return ChainData{}, false
	}
	c, ok := d.chains[chainID]
	return c, ok
}

// ChainIDs returns the chains with metadata in ascending order.
func (d *Directory) ChainIDs() []uint64 {
	if d == nil {
		return nil
	}
	ids := lo.Keys(d.chains)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MainnetEquivalent returns the chain 1 address of asset on chainID, if the
// metadata names one. Asset lookup ignores case.
func (d *Directory) MainnetEquivalent(chainID uint64, asset common.Address) (common.Address, bool) {
	c, ok := d.Get(chainID)
	if !ok {
		return common.Address{}, false
	}
	info, ok := c.AssetID[strings.ToLower(asset.Hex())]
	if !ok || !common.IsHexAddress(info.MainnetEquivalent) {
		return common.Address{}, false
	}
	return common.HexToAddress(info.MainnetEquivalent), true
}

// GasLimits returns the gas limits of chainID, falling back to the defaults
// field by field.
func (d *Directory) GasLimits(chainID uint64) GasLimits {
	limits := DefaultGasLimits()
	c, ok := d.Get(chainID)
	if !ok || c.GasEstimates == nil {
		return limits
	}

	g := c.GasEstimates
	limits.XCall = g.Prepare.Uint64(limits.XCall)
	limits.Execute = g.Fulfill.Uint64(limits.Execute)
	limits.XCallL1 = g.PrepareL1.Uint64(limits.XCallL1)
	limits.ExecuteL1 = g.FulfillL1.Uint64(limits.ExecuteL1)
	if f, ok := new(big.Int).SetString(string(g.GasPriceFactor), 10); ok && f.Sign() > 0 {
		limits.GasPriceFactor = f
	}
	return limits
}

// Parse decodes the JSON chain metadata list.
func Parse(data []byte) (*Directory, error) {
	var entries []ChainData
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse chain data: %w", err)
	}
	return NewDirectory(entries), nil
}

// LoadFile reads chain metadata from a JSON file.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain data file: %w", err)
	}
	return Parse(data)
}

// Fetch downloads chain metadata from url.
func Fetch(ctx context.Context, url string) (*Directory, error) {
	var entries []ChainData
	resp, err := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&entries).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain data: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch chain data: unexpected status %s", resp.Status())
	}
	return NewDirectory(entries), nil
}

// Load resolves chain metadata from a file or URL per cfg. With neither
// set, an empty directory is returned and every chain uses defaults.
func Load(ctx context.Context, cfg config.Config) (*Directory, error) {
	var (
		d   *Directory
		err error
	)
	switch {
	case cfg.ChainDataFile != "":
		d, err = LoadFile(cfg.ChainDataFile)
	case cfg.ChainDataURL != "":
		d, err = Fetch(ctx, cfg.ChainDataURL)
	default:
		logrus.Warn("No chain data configured, using default gas limits and no mainnet equivalents")
		return NewDirectory(nil), nil
	}
	if err != nil {
		return nil, err
	}
	logrus.WithField("chains", len(d.chains)).Info("Chain data loaded")
	return d, nil
}
