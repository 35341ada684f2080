package aggregate

import "replay-backtest/services/market"

// Key is the composite invalidation key for cached market context. Any
// component changing makes the stored entry unreachable.
type Key struct {
	Symbol  string
	Session string
	Hour1   int64 // open time of the last closed 1h candle
	Hour4   int64
	Day1    int64
}

type cacheEntry struct {
	key Key
	ctx market.Context
}

// StateCache memoizes one derived Context per symbol. It is not an LRU: a
// write always replaces the symbol's prior entry, and a lookup only hits on
// an exact key match. A miss is the normal recompute signal, never an error.
type StateCache struct {
	entries map[string]cacheEntry
	hits    uint64
	misses  uint64
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{entries: make(map[string]cacheEntry)}
}

// Get returns the stored context when the full composite key matches.
func (c *StateCache) Get(k Key) (market.Context, bool) {
	e, ok := c.entries[k.Symbol]
	if !ok || e.key != k {
		c.misses++
		return market.Context{}, false
	}
	c.hits++
	return e.ctx, true
}

// Put stores ctx under k, replacing whatever the symbol held before.
func (c *StateCache) Put(k Key, ctx market.Context) {
	c.entries[k.Symbol] = cacheEntry{key: k, ctx: ctx}
}

// Len returns the number of symbols with a stored entry.
func (c *StateCache) Len() int {
	return len(c.entries)
}

// Stats returns lifetime hit and miss counts.
func (c *StateCache) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}
