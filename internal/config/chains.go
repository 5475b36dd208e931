package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/yourorg/chain-reader/internal/types"
)

// ProviderConfig describes one RPC endpoint of a chain.
// In files it may also be written as a bare URL string.
type ProviderConfig struct {
	URL      string `json:"url" yaml:"url" validate:"required,rpc_url"`
	Priority int    `json:"priority,omitempty" yaml:"priority,omitempty"`

	// RPS caps requests per second sent to this endpoint, 0 means unlimited
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty" validate:"gte=0"`
}

// UnmarshalJSON accepts either a URL string or an object.
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*p = ProviderConfig{URL: raw}
		return nil
	}
	type plain ProviderConfig
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = ProviderConfig(v)
	return nil
}

// UnmarshalYAML accepts either a URL string or a mapping.
func (p *ProviderConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err == nil {
		*p = ProviderConfig{URL: raw}
		return nil
	}
	type plain ProviderConfig
	var v plain
	if err := unmarshal(&v); err != nil {
		return err
	}
	*p = ProviderConfig(v)
	return nil
}

// ChainConfig holds configuration for a single chain
type ChainConfig struct {
	Providers     []ProviderConfig `json:"providers" yaml:"providers" validate:"min=1,dive"`
	Confirmations uint64           `json:"confirmations" yaml:"confirmations"`
	GasStations   []string         `json:"gasStations,omitempty" yaml:"gasStations,omitempty" validate:"dive,url"`

	// PriceOracle is the address of the deployed price oracle, if any
	PriceOracle string `json:"priceOracle,omitempty" yaml:"priceOracle,omitempty" validate:"omitempty,eth_addr"`

	// L1DataFee marks rollups that pay for posting data to chain 1.
	// Unset means true for chain 10 and false elsewhere.
	L1DataFee *bool `json:"l1DataFee,omitempty" yaml:"l1DataFee,omitempty"`
}

// HasL1DataFee reports whether fees on this chain include the L1 posting cost.
func (c ChainConfig) HasL1DataFee(chainID uint64) bool {
	if c.L1DataFee != nil {
		return *c.L1DataFee
	}
	return chainID == types.ChainIDOptimism
}

// PriceOracleAddress returns the configured oracle address.
func (c ChainConfig) PriceOracleAddress() (common.Address, bool) {
	if c.PriceOracle == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.PriceOracle), true
}

// Chains maps a chain id, encoded as a decimal string, to its configuration
type Chains map[string]ChainConfig

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("rpc_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil || u.Host == "" {
			return false
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
			return true
		}
		return false
	})
	return v
}

// ParseChainID parses a configuration key into a chain id.
func ParseChainID(key string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chain id %q", key)
	}
	return id, nil
}

// Validate checks every chain and returns a *types.ConfigurationError listing
// each offending field, or nil.
func (c Chains) Validate() error {
	cfgErr := &types.ConfigurationError{}
	if len(c) == 0 {
		cfgErr.Add("*", "chains", "at least one chain must be configured", nil)
		return cfgErr
	}

	keys := lo.Keys(c)
	sort.Slice(keys, func(i, j int) bool {
		a, errA := ParseChainID(keys[i])
		b, errB := ParseChainID(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	for _, key := range keys {
		if _, err := ParseChainID(key); err != nil {
			cfgErr.Add(key, "chainId", "must be a positive integer", key)
		}

		err := validate.Struct(c[key])
		if err == nil {
			continue
		}
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			cfgErr.Add(key, "config", err.Error(), nil)
			continue
		}
		for _, fe := range verrs {
			cfgErr.Add(key, fieldPath(fe), describe(fe), fe.Value())
		}
	}

	if err := cfgErr.ErrOrNil(); err != nil {
		logrus.WithField("fields", len(cfgErr.Fields)).Error("Chain configuration is invalid")
		return err
	}
	return nil
}

// IDs returns the configured chain ids in ascending order, skipping keys
// that do not parse.
func (c Chains) IDs() []uint64 {
	ids := make([]uint64, 0, len(c))
	for key := range c {
		if id, err := ParseChainID(key); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the configuration for a chain id.
func (c Chains) Get(chainID uint64) (ChainConfig, bool) {
	cfg, ok := c[strconv.FormatUint(chainID, 10)]
	return cfg, ok
}

// fieldPath strips the root struct name from the validator namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		if fe.Field() == "providers" {
			return "no valid providers were supplied for this chain"
		}
		return "must have at least " + fe.Param() + " entries"
	case "required":
		return "is required"
	case "rpc_url":
		return "must be an http(s) or ws(s) URL"
	case "url":
		return "must be a valid URL"
	case "eth_addr":
		return "must be a 0x-prefixed 20-byte hex address"
	case "gte":
		return "must not be negative"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// ParseChains decodes chain configuration. format is "json" or "yaml".
func ParseChains(data []byte, format string) (Chains, error) {
	chains := Chains{}
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &chains); err != nil {
			return nil, fmt.Errorf("failed to parse chain config yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &chains); err != nil {
			return nil, fmt.Errorf("failed to parse chain config json: %w", err)
		}
	}
	return chains, nil
}

// LoadChainsFile reads chain configuration from a JSON or YAML file.
func LoadChainsFile(path string) (Chains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config file: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return ParseChains(data, format)
}

// LoadChains resolves chain configuration from the process config: a file
// when one is set, raw JSON otherwise. The result is validated.
func LoadChains(cfg Config) (Chains, error) {
	var (
		chains Chains
		err    error
	)
	switch {
	case cfg.ChainsConfigFile != "":
		chains, err = LoadChainsFile(cfg.ChainsConfigFile)
	case cfg.ChainsConfigJSON != "":
		chains, err = ParseChains([]byte(cfg.ChainsConfigJSON), "json")
	default:
		return nil, fmt.Errorf("no chain configuration: set CHAINS_CONFIG_FILE or CHAINS_CONFIG")
	}
	if err != nil {
		return nil, err
	}
	if err := chains.Validate(); err != nil {
		return nil, err
	}
	logrus.WithField("chains", chains.IDs()).Info("Chain configuration loaded")
	return chains, nil
}
