package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-reader/internal/config"
	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/rpcpool/rpcpooltest"
	"github.com/yourorg/chain-reader/internal/types"
)

func testChains() config.Chains {
	return config.Chains{
		"1": {
			Providers:     []config.ProviderConfig{{URL: "https://mainnet-a.example.org"}, {URL: "https://mainnet-b.example.org", Priority: 1}},
			Confirmations: 12,
		},
		"10": {
			Providers:     []config.ProviderConfig{{URL: "https://optimism.example.org", RPS: 5}},
			Confirmations: 1,
			GasStations:   []string{"https://gas.example.org"},
		},
	}
}

func testClients() map[string]*rpcpooltest.Client {
	return map[string]*rpcpooltest.Client{
		"https://mainnet-a.example.org": {},
		"https://mainnet-b.example.org": {},
		"https://optimism.example.org":  {},
	}
}

func TestBuild(t *testing.T) {
	clients := testClients()
	r, err := Build(context.Background(), testChains(), Options{Dial: rpcpooltest.Factory(clients)})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []uint64{1, 10}, r.ChainIDs())
	assert.True(t, r.Has(10))
	assert.False(t, r.Has(137))
	assert.Len(t, r.Pools(), 2)

	agg, err := r.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), agg.ChainID())
	assert.Equal(t, uint64(12), agg.Confirmations())
	assert.Len(t, agg.Pool().Endpoints(), 2)

	cfg, ok := r.Chain(10)
	require.True(t, ok)
	assert.Len(t, cfg.GasStations, 1)
}

func TestBuild_InvalidConfigDialsNothing(t *testing.T) {
	dialed := 0
	dial := func(ctx context.Context, rawURL string) (rpcpool.Client, error) {
		dialed++
		return &rpcpooltest.Client{}, nil
	}
	chains := testChains()
	chains["137"] = config.ChainConfig{}
	chains["56"] = config.ChainConfig{Providers: []config.ProviderConfig{{URL: "not a url"}}}

	_, err := Build(context.Background(), chains, Options{Dial: dial})

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Fields, 2, "Every offending chain should be listed")
	assert.Equal(t, 0, dialed, "Nothing should be dialed for an invalid configuration")
}

func TestBuild_DialFailureClosesClients(t *testing.T) {
	clients := testClients()
	delete(clients, "https://mainnet-b.example.org")

	_, err := Build(context.Background(), testChains(), Options{Dial: rpcpooltest.Factory(clients)})
	require.Error(t, err)
	assert.True(t, clients["https://mainnet-a.example.org"].Closed(), "Already dialed clients should be closed")
}

func TestGet_UnconfiguredChain(t *testing.T) {
	clients := testClients()
	r, err := Build(context.Background(), testChains(), Options{Dial: rpcpooltest.Factory(clients)})
	require.NoError(t, err)

	_, err = r.Get(137)
	var notConfigured *types.ProviderNotConfiguredError
	require.ErrorAs(t, err, &notConfigured)
	assert.Equal(t, uint64(137), notConfigured.ChainID)
	assert.True(t, errors.Is(err, types.ErrChainNotSupported))

	for url, c := range clients {
		assert.Equal(t, 0, c.TotalCalls(), "%s should not be contacted", url)
	}
}

func TestClose(t *testing.T) {
	clients := testClients()
	r, err := Build(context.Background(), testChains(), Options{Dial: rpcpooltest.Factory(clients)})
	require.NoError(t, err)

	r.Close()
	for url, c := range clients {
		assert.True(t, c.Closed(), "%s should be closed", url)
	}
}
