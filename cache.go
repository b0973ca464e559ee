// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

const (
	// DefaultCacheMaxItems is the default maximum number of items, present
	// or known to be absent, a ReadWriteCache holds.
	DefaultCacheMaxItems = 100000
)

// CacheConfig houses the parameters used to create a ReadWriteCache.
type CacheConfig struct {
	// Inner is the view misses are loaded from and writes are forwarded to.
	Inner CoinView

	// MaxItems is the maximum number of items the cache holds after a save.
	// DefaultCacheMaxItems is used when it is zero.
	MaxItems int

	// DisableReadThrough prevents entries loaded from Inner from being
	// cached.
	DisableReadThrough bool

	// DisableWriteThrough prevents saved entries from being cached.  Saves
	// are forwarded to Inner regardless.
	DisableWriteThrough bool

	// Eviction selects the items dropped once the cache exceeds MaxItems.
	// A RandomEviction is used when it is nil.
	Eviction EvictionStrategy
}

// ReadWriteCache is a bounded cache in front of another coin view.  It
// remembers both entries and ids that are known to have no entry so repeated
// lookups for either are answered without consulting the inner view.
type ReadWriteCache struct {
	inner        CoinView
	maxItems     int
	readThrough  bool
	writeThrough bool

	// mtx protects all of the fields below as well as calls into the
	// eviction strategy.
	mtx      sync.Mutex
	entries  map[chainhash.Hash]*CoinEntry
	absent   map[chainhash.Hash]struct{}
	eviction EvictionStrategy

	// writeSeq is bumped by every save and invalidation.  Entries loaded
	// from the inner view are only cached when it did not change during the
	// load.
	writeSeq uint64

	// The following fields track the total number of cache hits and misses.
	hits   uint64
	misses uint64
}

// Ensure ReadWriteCache implements the BackedView interface.
var _ BackedView = (*ReadWriteCache)(nil)

// NewReadWriteCache returns a cache over the view specified in the config.
func NewReadWriteCache(cfg *CacheConfig) (*ReadWriteCache, error) {
	if cfg.Inner == nil {
		return nil, missingInnerError("read/write cache")
	}
	maxItems := cfg.MaxItems
	switch {
	case maxItems == 0:
		maxItems = DefaultCacheMaxItems
	case maxItems < 0:
		str := fmt.Sprintf("cache max items must not be negative (got %d)",
			maxItems)
		return nil, contextError(ErrInvalidConfig, str)
	}
	eviction := cfg.Eviction
	if eviction == nil {
		eviction = NewRandomEviction()
	}

	return &ReadWriteCache{
		inner:        cfg.Inner,
		maxItems:     maxItems,
		readThrough:  !cfg.DisableReadThrough,
		writeThrough: !cfg.DisableWriteThrough,
		entries:      make(map[chainhash.Hash]*CoinEntry),
		absent:       make(map[chainhash.Hash]struct{}),
		eviction:     eviction,
	}, nil
}

// Inner returns the view the cache wraps.
func (c *ReadWriteCache) Inner() CoinView {
	return c.inner
}

// FetchCoins returns the entries for the provided ids.  Ids known to be
// absent are reported as nil without consulting the inner view.  The
// remaining misses are loaded from the inner view in one call.
//
// This function is safe for concurrent access.
func (c *ReadWriteCache) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	results := make([]*CoinEntry, len(ids))
	var missIdxs []int
	var missIDs []chainhash.Hash

	c.mtx.Lock()
	for i, id := range ids {
		if _, ok := c.absent[id]; ok {
			c.hits++
			c.eviction.Touched(id)
			continue
		}
		if entry, ok := c.entries[id]; ok {
			c.hits++
			c.eviction.Touched(id)
			results[i] = entry.Clone()
			continue
		}
		c.misses++
		missIdxs = append(missIdxs, i)
		missIDs = append(missIDs, id)
	}
	writeSeq := c.writeSeq
	c.mtx.Unlock()

	if len(missIDs) == 0 {
		return results, nil
	}

	loaded, err := c.inner.FetchCoins(missIDs)
	if err != nil {
		return nil, err
	}
	if len(loaded) != len(missIDs) {
		return nil, AssertError(fmt.Sprintf("inner view returned %d entries "+
			"for %d ids", len(loaded), len(missIDs)))
	}

	if c.readThrough {
		c.mtx.Lock()
		if c.writeSeq == writeSeq {
			for i, id := range missIDs {
				if c.contains(id) {
					continue
				}
				c.insert(id, loaded[i])
			}
		}
		c.mtx.Unlock()
	}

	for i, idx := range missIdxs {
		if loaded[i] != nil && loaded[i].IsPruned() {
			continue
		}
		results[idx] = loaded[i]
	}
	return results, nil
}

// contains returns whether the id is cached either as an entry or as known
// to be absent.  It must be called with the mutex held.
func (c *ReadWriteCache) contains(id chainhash.Hash) bool {
	if _, ok := c.entries[id]; ok {
		return true
	}
	_, ok := c.absent[id]
	return ok
}

// insert caches the provided entry, recording nil and pruned entries as
// absent.  It must be called with the mutex held.
func (c *ReadWriteCache) insert(id chainhash.Hash, entry *CoinEntry) {
	if entry == nil || entry.IsPruned() {
		delete(c.entries, id)
		c.absent[id] = struct{}{}
	} else {
		delete(c.absent, id)
		c.entries[id] = entry.Clone()
	}
	c.eviction.Touched(id)
}

// remove drops the id from the cache.  It must be called with the mutex held.
func (c *ReadWriteCache) remove(id chainhash.Hash) {
	delete(c.entries, id)
	delete(c.absent, id)
	c.eviction.Removed(id)
}

// evict drops items selected by the eviction strategy until the cache holds
// at most the maximum number of items.  It must be called with the mutex held.
func (c *ReadWriteCache) evict() {
	total := len(c.entries) + len(c.absent)
	if total <= c.maxItems {
		return
	}

	victims := c.eviction.SelectVictims(c.entries, c.absent, c.maxItems)
	for _, id := range victims {
		delete(c.entries, id)
		delete(c.absent, id)
	}

	// Enforce the bound regardless of the strategy in use.
	for id := range c.entries {
		if len(c.entries)+len(c.absent) <= c.maxItems {
			break
		}
		c.remove(id)
	}
	for id := range c.absent {
		if len(c.entries)+len(c.absent) <= c.maxItems {
			break
		}
		c.remove(id)
	}
	log.Tracef("Evicted %d of %d cached items", total-len(c.entries)-
		len(c.absent), total)
}

// SaveChanges caches the provided entries unless write-through is disabled,
// evicts as needed and forwards the changes to the inner view.  Should the
// inner view fail, the affected ids are dropped from the cache so later reads
// consult the inner view again.
//
// This function is safe for concurrent access.
func (c *ReadWriteCache) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	if err := checkChanges(ids, entries); err != nil {
		return err
	}

	c.mtx.Lock()
	c.writeSeq++
	if c.writeThrough {
		for i, id := range ids {
			if !c.contains(id) {
				c.misses++
			}
			c.insert(id, entries[i])
		}
		c.evict()
	} else {
		for _, id := range ids {
			c.remove(id)
		}
	}
	c.mtx.Unlock()

	if err := c.inner.SaveChanges(tip, ids, entries); err != nil {
		c.Invalidate(ids)
		return err
	}
	return nil
}

// Invalidate drops the provided ids from the cache.
//
// This function is safe for concurrent access.
func (c *ReadWriteCache) Invalidate(ids []chainhash.Hash) {
	c.mtx.Lock()
	c.writeSeq++
	for _, id := range ids {
		c.remove(id)
	}
	c.mtx.Unlock()
}

// Tip returns the tip of the inner view since the cache does not track one of
// its own.
func (c *ReadWriteCache) Tip() *ChainPosition {
	return c.inner.Tip()
}

// Hits returns the number of lookups answered by the cache.
func (c *ReadWriteCache) Hits() uint64 {
	c.mtx.Lock()
	hits := c.hits
	c.mtx.Unlock()
	return hits
}

// Misses returns the number of lookups that required the inner view along
// with the number of ids saved while not cached.
func (c *ReadWriteCache) Misses() uint64 {
	c.mtx.Lock()
	misses := c.misses
	c.mtx.Unlock()
	return misses
}

// HitRatio returns the percentage of lookups that were cache hits.
func (c *ReadWriteCache) HitRatio() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	totalLookups := c.hits + c.misses
	if totalLookups == 0 {
		return 100
	}

	return float64(c.hits) / float64(totalLookups) * 100
}

// Len returns the number of cached entries.
func (c *ReadWriteCache) Len() int {
	c.mtx.Lock()
	n := len(c.entries)
	c.mtx.Unlock()
	return n
}

// AbsentLen returns the number of ids cached as known to be absent.
func (c *ReadWriteCache) AbsentLen() int {
	c.mtx.Lock()
	n := len(c.absent)
	c.mtx.Unlock()
	return n
}
