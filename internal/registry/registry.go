// Package registry builds one aggregator per configured chain and looks
// them up by chain id.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-reader/internal/aggregator"
	"github.com/yourorg/chain-reader/internal/config"
	"github.com/yourorg/chain-reader/internal/gasstation"
	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/telemetry"
	"github.com/yourorg/chain-reader/internal/types"
)

// Options tunes how pools and aggregators are built.
type Options struct {
	// Dial opens an endpoint client, rpcpool.Dial when nil
	Dial rpcpool.ClientFactory

	AttemptTimeout   time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	StaleBlockLag    uint64
	Metrics          *telemetry.Metrics
}

// OptionsFromConfig maps process configuration onto registry options.
func OptionsFromConfig(cfg config.Config, metrics *telemetry.Metrics) Options {
	return Options{
		AttemptTimeout:   cfg.AttemptTimeout,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.EndpointCooldown,
		StaleBlockLag:    cfg.StaleBlockLag,
		Metrics:          metrics,
	}
}

// Registry maps chain ids to their aggregator. It is immutable once built.
type Registry struct {
	aggregators map[uint64]*aggregator.Aggregator
	chains      config.Chains
}

// Build validates chains and then creates a pool and aggregator per chain.
// Invalid configuration is reported as a single *types.ConfigurationError
// and nothing is dialed.
func Build(ctx context.Context, chains config.Chains, opts Options) (*Registry, error) {
	if err := chains.Validate(); err != nil {
		return nil, err
	}
	if opts.Dial == nil {
		opts.Dial = rpcpool.Dial
	}

	r := &Registry{
		aggregators: make(map[uint64]*aggregator.Aggregator, len(chains)),
		chains:      chains,
	}
	for _, chainID := range chains.IDs() {
		cfg, _ := chains.Get(chainID)
		agg, err := buildChain(ctx, chainID, cfg, opts)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("chain %d: %w", chainID, err)
		}
		r.aggregators[chainID] = agg

		logrus.WithFields(logrus.Fields{
			"chain":       chainID,
			"providers":   len(cfg.Providers),
			"gasStations": len(cfg.GasStations),
		}).Info("Chain registered")
	}
	return r, nil
}

func buildChain(ctx context.Context, chainID uint64, cfg config.ChainConfig, opts Options) (*aggregator.Aggregator, error) {
	specs := make([]rpcpool.EndpointSpec, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		client, err := opts.Dial(ctx, p.URL)
		if err != nil {
			for _, s := range specs {
				s.Client.Close()
			}
			return nil, fmt.Errorf("failed to dial provider: %w", err)
		}
		specs = append(specs, rpcpool.EndpointSpec{
			URL:      p.URL,
			Priority: p.Priority,
			RPS:      p.RPS,
			Client:   client,
		})
	}

	pool, err := rpcpool.New(chainID, specs, rpcpool.Options{
		FailureThreshold: opts.FailureThreshold,
		Cooldown:         opts.Cooldown,
		StaleBlockLag:    opts.StaleBlockLag,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	var stations *gasstation.Client
	if len(cfg.GasStations) > 0 {
		stations = gasstation.New(cfg.GasStations)
	}

	return aggregator.New(chainID, pool, aggregator.Options{
		AttemptTimeout: opts.AttemptTimeout,
		Confirmations:  cfg.Confirmations,
		GasStations:    stations,
		Metrics:        opts.Metrics,
	}), nil
}

// Get returns the aggregator of chainID. An unconfigured chain fails with
// *types.ProviderNotConfiguredError.
func (r *Registry) Get(chainID uint64) (*aggregator.Aggregator, error) {
	agg, ok := r.aggregators[chainID]
	if !ok {
		return nil, &types.ProviderNotConfiguredError{ChainID: chainID}
	}
	return agg, nil
}

// Has reports whether chainID is configured.
func (r *Registry) Has(chainID uint64) bool {
	_, ok := r.aggregators[chainID]
	return ok
}

// ChainIDs returns the configured chain ids in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := lo.Keys(r.aggregators)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Chain returns the configuration chainID was built from.
func (r *Registry) Chain(chainID uint64) (config.ChainConfig, bool) {
	return r.chains.Get(chainID)
}

// Pools returns every chain's endpoint pool, ordered by chain id.
func (r *Registry) Pools() []*rpcpool.Pool {
	return lo.Map(r.ChainIDs(), func(id uint64, _ int) *rpcpool.Pool {
		return r.aggregators[id].Pool()
	})
}

// Close releases all endpoint clients.
func (r *Registry) Close() {
	for _, agg := range r.aggregators {
		agg.Close()
	}
}
