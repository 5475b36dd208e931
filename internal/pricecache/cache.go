// Package pricecache keeps recently read token prices for a short time.
package pricecache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/chain-reader/internal/telemetry"
	"github.com/yourorg/chain-reader/internal/types"
)

// DefaultFreshness is how long a cached price may be served.
const DefaultFreshness = 60 * time.Second

// Options configures a Cache.
type Options struct {
	Freshness time.Duration

	// MaxSizeMB bounds memory use, 0 means unbounded
	MaxSizeMB int

	Clock   func() time.Time
	Metrics *telemetry.Metrics
}

// Cache maps (chain, asset, block tag) to a price and the time it was read.
// It is safe for concurrent use; entries are always replaced whole.
type Cache struct {
	store     *bigcache.BigCache
	freshness time.Duration
	now       func() time.Time
	metrics   *telemetry.Metrics
}

// New creates a cache. Entries are evicted well after they stop being fresh,
// freshness itself is judged on read against the capture time.
func New(ctx context.Context, opts Options) (*Cache, error) {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	life := 10 * opts.Freshness
	if life < 10*time.Minute {
		life = 10 * time.Minute
	}

	store, err := bigcache.New(ctx, bigcache.Config{
		Shards:             64,
		LifeWindow:         life,
		CleanWindow:        5 * time.Minute,
		MaxEntriesInWindow: 10_000,
		MaxEntrySize:       64,
		HardMaxCacheSize:   opts.MaxSizeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}

	return &Cache{
		store:     store,
		freshness: opts.Freshness,
		now:       opts.Clock,
		metrics:   opts.Metrics,
	}, nil
}

// Key builds the cache key "<chainId>-<asset><blockTag>" with the asset in
// lowercase hex.
func Key(chainID uint64, asset common.Address, tag types.BlockTag) string {
	return fmt.Sprintf("%d-%s%s", chainID, strings.ToLower(asset.Hex()), tag.String())
}

// Get returns the price under key if it was captured less than the
// freshness window ago.
func (c *Cache) Get(key string) (*big.Int, bool) {
	raw, err := c.store.Get(key)
	if err != nil || len(raw) < 8 {
		c.metrics.PriceCacheLookup(false)
		return nil, false
	}

	captured := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8])))
	if c.now().Sub(captured) >= c.freshness {
		c.metrics.PriceCacheLookup(false)
		return nil, false
	}

	c.metrics.PriceCacheLookup(true)
	return new(big.Int).SetBytes(raw[8:]), true
}

// Set stores price under key, captured now.
func (c *Cache) Set(key string, price *big.Int) error {
	if price == nil || price.Sign() < 0 {
		return errors.New("price must be a non-negative integer")
	}

	raw := make([]byte, 8, 8+len(price.Bytes()))
	binary.BigEndian.PutUint64(raw, uint64(c.now().UnixNano()))
	raw = append(raw, price.Bytes()...)
	return c.store.Set(key, raw)
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Close stops background eviction.
func (c *Cache) Close() error {
	return c.store.Close()
}
