package pricecache

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-reader/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	c, err := New(context.Background(), Options{Clock: clock.Now, MaxSizeMB: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKey(t *testing.T) {
	asset := common.HexToAddress("0xABCDEF0000000000000000000000000000000001")

	assert.Equal(t, "1337-0xabcdef0000000000000000000000000000000001latest", Key(1337, asset, types.BlockTagLatest))
	assert.Equal(t, Key(1, asset, ""), Key(1, asset, "LATEST"), "Tags should be normalized")
	assert.NotEqual(t, Key(1, asset, types.BlockNumberTag(5)), Key(1, asset, types.BlockNumberTag(6)))
}

func TestFreshness(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newCache(t, clock)

	require.NoError(t, c.Set("k", big.NewInt(31)))

	clock.Advance(59 * time.Second)
	price, ok := c.Get("k")
	require.True(t, ok, "Entry should be fresh at 59s")
	assert.Equal(t, int64(31), price.Int64())

	clock.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "Entry should be stale at 61s")
}

func TestSetReplacesWholeEntry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newCache(t, clock)

	require.NoError(t, c.Set("k", big.NewInt(1)))
	clock.Advance(50 * time.Second)
	require.NoError(t, c.Set("k", big.NewInt(2)))
	clock.Advance(50 * time.Second)

	price, ok := c.Get("k")
	require.True(t, ok, "Rewrite should reset the capture time")
	assert.Equal(t, int64(2), price.Int64())
}

func TestGet_Missing(t *testing.T) {
	c := newCache(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestSet_ZeroAndLargePrices(t *testing.T) {
	c := newCache(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	large, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.NoError(t, c.Set("zero", big.NewInt(0)))
	require.NoError(t, c.Set("large", large))

	zero, ok := c.Get("zero")
	require.True(t, ok)
	assert.Equal(t, 0, zero.Sign())

	got, ok := c.Get("large")
	require.True(t, ok)
	assert.Equal(t, large.String(), got.String())

	assert.Error(t, c.Set("negative", big.NewInt(-1)))
	assert.Error(t, c.Set("nil", nil))
}

func TestConcurrentAccess(t *testing.T) {
	c := newCache(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set("shared", big.NewInt(int64(i)))
			_, _ = c.Get("shared")
		}(i)
	}
	wg.Wait()

	price, ok := c.Get("shared")
	require.True(t, ok)
	assert.True(t, price.Int64() >= 0 && price.Int64() < 50)
}
