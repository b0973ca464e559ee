// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// EvictionStrategy selects which ids a ReadWriteCache drops once it holds
// more than its configured maximum number of items.
//
// The cache invokes every method with its own lock held, so implementations do
// not need to be safe for concurrent access but must not call back into the
// cache.
type EvictionStrategy interface {
	// Touched is invoked whenever an id is inserted into the cache or served
	// from it.
	Touched(id chainhash.Hash)

	// Removed is invoked whenever an id leaves the cache for any reason
	// other than being selected for eviction.
	Removed(id chainhash.Hash)

	// SelectVictims returns the ids to evict so that the cache holds at most
	// maxItems items.  The entries and absent maps are the current contents
	// of the cache and must not be modified.
	SelectVictims(entries map[chainhash.Hash]*CoinEntry,
		absent map[chainhash.Hash]struct{}, maxItems int) []chainhash.Hash
}

// RandomEviction evicts each cached item with a probability of one in three,
// repeating the draw until the cache is back under its limit.  It keeps no
// per item state.
type RandomEviction struct {
	// uint32N returns a uniform random number in [0, n).  It is replaceable
	// for deterministic tests.
	uint32N func(n uint32) uint32
}

// Ensure RandomEviction implements the EvictionStrategy interface.
var _ EvictionStrategy = (*RandomEviction)(nil)

// NewRandomEviction returns the default eviction strategy.
func NewRandomEviction() *RandomEviction {
	return &RandomEviction{uint32N: rand.Uint32N}
}

// Touched does nothing since random eviction does not track recency.
func (*RandomEviction) Touched(chainhash.Hash) {}

// Removed does nothing since random eviction does not track recency.
func (*RandomEviction) Removed(chainhash.Hash) {}

// SelectVictims draws each remaining item with a probability of one in three
// in rounds until enough items were drawn to bring the cache within maxItems.
func (r *RandomEviction) SelectVictims(entries map[chainhash.Hash]*CoinEntry,
	absent map[chainhash.Hash]struct{}, maxItems int) []chainhash.Hash {

	total := len(entries) + len(absent)
	if total <= maxItems {
		return nil
	}

	selected := make(map[chainhash.Hash]struct{})
	draw := func(id chainhash.Hash) {
		if _, ok := selected[id]; ok {
			return
		}
		if r.uint32N(3) == 0 {
			selected[id] = struct{}{}
		}
	}
	for total-len(selected) > maxItems {
		for id := range entries {
			draw(id)
		}
		for id := range absent {
			draw(id)
		}
	}

	victims := make([]chainhash.Hash, 0, len(selected))
	for id := range selected {
		victims = append(victims, id)
	}
	return victims
}

// LRUEviction evicts the least recently used items first and only evicts
// as many as needed to return to the limit.  Selecting victims costs time in
// proportion to the number of victims rather than the size of the cache.
type LRUEviction struct {
	limit  int
	recent *simplelru.LRU[chainhash.Hash, struct{}]

	// overflow houses ids that fell out of the tracked window in the order
	// they did.  They are older than every tracked id.
	overflow []chainhash.Hash
}

// Ensure LRUEviction implements the EvictionStrategy interface.
var _ EvictionStrategy = (*LRUEviction)(nil)

// NewLRUEviction returns an eviction strategy that tracks the recency of up to
// limit ids.  Cached ids that fall out of the tracked window are treated as
// the least recently used.
func NewLRUEviction(limit uint32) *LRUEviction {
	if limit == 0 {
		limit = 1
	}

	// NewLRU only fails for a size that is not positive.
	recent, _ := simplelru.NewLRU[chainhash.Hash, struct{}](int(limit), nil)
	return &LRUEviction{limit: int(limit), recent: recent}
}

// Touched marks the id as the most recently used.
func (l *LRUEviction) Touched(id chainhash.Hash) {
	if l.recent.Len() >= l.limit && !l.recent.Contains(id) {
		if oldest, _, ok := l.recent.RemoveOldest(); ok {
			l.overflow = append(l.overflow, oldest)
		}
	}
	l.recent.Add(id, struct{}{})
}

// Removed stops tracking the id.
func (l *LRUEviction) Removed(id chainhash.Hash) {
	l.recent.Remove(id)
}

// SelectVictims returns the least recently used ids until the cache would be
// exactly at maxItems.
func (l *LRUEviction) SelectVictims(entries map[chainhash.Hash]*CoinEntry,
	absent map[chainhash.Hash]struct{}, maxItems int) []chainhash.Hash {

	excess := len(entries) + len(absent) - maxItems
	if excess <= 0 {
		return nil
	}

	victims := make([]chainhash.Hash, 0, excess)
	selected := make(map[chainhash.Hash]struct{}, excess)
	take := func(id chainhash.Hash) {
		if _, ok := selected[id]; ok {
			return
		}
		_, isEntry := entries[id]
		_, isAbsent := absent[id]
		if !isEntry && !isAbsent {
			return
		}
		selected[id] = struct{}{}
		victims = append(victims, id)
	}

	// Ids that overflowed and were not touched again go first.
	for len(l.overflow) > 0 && len(victims) < excess {
		id := l.overflow[0]
		l.overflow = l.overflow[1:]
		if !l.recent.Contains(id) {
			take(id)
		}
	}
	if len(l.overflow) == 0 {
		l.overflow = nil
	}
	for len(victims) < excess {
		id, _, ok := l.recent.RemoveOldest()
		if !ok {
			break
		}
		take(id)
	}
	return victims
}

// Len returns the number of ids whose recency is tracked.
func (l *LRUEviction) Len() int {
	return l.recent.Len()
}
