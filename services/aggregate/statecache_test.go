package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/market"
)

func TestStateCacheExactKeyMatch(t *testing.T) {
	cache := NewStateCache()
	key := Key{Symbol: "SPY", Session: "regular", Hour1: 100, Hour4: 200, Day1: 300}
	ctx := market.Context{Symbol: "SPY", Session: "regular", HourlyBias: market.BiasBullish}

	_, ok := cache.Get(key)
	assert.False(t, ok, "empty cache misses")

	cache.Put(key, ctx)
	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, market.BiasBullish, got.HourlyBias)
}

func TestStateCacheAnyComponentChangeMisses(t *testing.T) {
	cache := NewStateCache()
	key := Key{Symbol: "SPY", Session: "regular", Hour1: 100, Hour4: 200, Day1: 300}
	cache.Put(key, market.Context{Symbol: "SPY"})

	variants := []Key{
		{Symbol: "SPY", Session: "postmarket", Hour1: 100, Hour4: 200, Day1: 300},
		{Symbol: "SPY", Session: "regular", Hour1: 160, Hour4: 200, Day1: 300},
		{Symbol: "SPY", Session: "regular", Hour1: 100, Hour4: 440, Day1: 300},
		{Symbol: "SPY", Session: "regular", Hour1: 100, Hour4: 200, Day1: 1740},
		{Symbol: "QQQ", Session: "regular", Hour1: 100, Hour4: 200, Day1: 300},
	}
	for _, k := range variants {
		_, ok := cache.Get(k)
		assert.False(t, ok, "key %+v must miss", k)
	}

	// the original key still hits
	_, ok := cache.Get(key)
	assert.True(t, ok)
}

func TestStateCacheOneEntryPerSymbol(t *testing.T) {
	cache := NewStateCache()
	k1 := Key{Symbol: "SPY", Session: "regular", Hour1: 100}
	k2 := Key{Symbol: "SPY", Session: "regular", Hour1: 160}

	cache.Put(k1, market.Context{ComputedAt: 1})
	cache.Put(k2, market.Context{ComputedAt: 2})
	assert.Equal(t, 1, cache.Len(), "write replaces the symbol's entry")

	_, ok := cache.Get(k1)
	assert.False(t, ok, "replaced key is gone")
	got, ok := cache.Get(k2)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ComputedAt)
}

func TestStateCacheStats(t *testing.T) {
	cache := NewStateCache()
	k := Key{Symbol: "SPY"}
	cache.Get(k)
	cache.Put(k, market.Context{})
	cache.Get(k)
	cache.Get(Key{Symbol: "QQQ"})

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
}
