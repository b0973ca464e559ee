// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Eviction strategy names accepted by PipelineConfig.
const (
	EvictionRandom = "random"
	EvictionLRU    = "lru"
)

// PipelineConfig houses the parameters used to create a Pipeline.
type PipelineConfig struct {
	// Store is the base store at the bottom of the pipeline.
	Store CoinView

	// CacheMaxItems is the maximum number of items held by the cache.
	CacheMaxItems int

	// Eviction names the cache eviction strategy.  EvictionRandom is used
	// when it is empty.
	Eviction string

	// FlushPeriod and MaxPendingEntries configure when writes are drained to
	// the store.
	FlushPeriod       time.Duration
	MaxPendingEntries int

	// BatchMaxSize is the maximum number of ids fetched from the store in a
	// single call.
	BatchMaxSize int
}

// Pipeline is the full composition of the coin view layers over a store:
//
//	ReadAheadPrefetcher -> ReadWriteCache -> BackgroundCommitter ->
//	    ParallelFetcher -> store
type Pipeline struct {
	prefetcher *ReadAheadPrefetcher
	cache      *ReadWriteCache
	committer  *BackgroundCommitter
	fetcher    *ParallelFetcher
	store      CoinView
}

// Ensure Pipeline implements the PrefetchView interface.
var _ PrefetchView = (*Pipeline)(nil)

// NewPipeline builds the layers of a pipeline over the store specified in the
// config.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, missingInnerError("pipeline")
	}

	var eviction EvictionStrategy
	switch cfg.Eviction {
	case "", EvictionRandom:
		eviction = NewRandomEviction()
	case EvictionLRU:
		maxItems := cfg.CacheMaxItems
		if maxItems <= 0 {
			maxItems = DefaultCacheMaxItems
		}
		eviction = NewLRUEviction(uint32(maxItems))
	default:
		str := fmt.Sprintf("unknown eviction strategy %q", cfg.Eviction)
		return nil, contextError(ErrInvalidConfig, str)
	}

	fetcher, err := NewParallelFetcher(&ParallelFetcherConfig{
		Inner:        cfg.Store,
		BatchMaxSize: cfg.BatchMaxSize,
	})
	if err != nil {
		return nil, err
	}
	committer, err := NewBackgroundCommitter(&BackgroundCommitterConfig{
		Store:             fetcher,
		FlushPeriod:       cfg.FlushPeriod,
		MaxPendingEntries: cfg.MaxPendingEntries,
	})
	if err != nil {
		return nil, err
	}
	cache, err := NewReadWriteCache(&CacheConfig{
		Inner:    committer,
		MaxItems: cfg.CacheMaxItems,
		Eviction: eviction,
	})
	if err != nil {
		return nil, err
	}
	prefetcher, err := NewReadAheadPrefetcher(&PrefetcherConfig{Inner: cache})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		prefetcher: prefetcher,
		cache:      cache,
		committer:  committer,
		fetcher:    fetcher,
		store:      cfg.Store,
	}, nil
}

// FetchCoins returns the entries for the provided ids.  Pruned entries are
// reported as nil.
func (p *Pipeline) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	return p.prefetcher.FetchCoins(ids)
}

// SaveChanges records the changes.  They reach the store with the next flush.
func (p *Pipeline) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	return p.prefetcher.SaveChanges(tip, ids, entries)
}

// Tip returns the tip of the most recent save.
func (p *Pipeline) Tip() *ChainPosition {
	return p.prefetcher.Tip()
}

// Prefetch starts loading the ids the candidate block spends.
func (p *Pipeline) Prefetch(candidate ChainPosition, ids []chainhash.Hash) {
	p.prefetcher.Prefetch(candidate, ids)
}

// Flush drains every saved change to the store.
func (p *Pipeline) Flush() error {
	return p.committer.Flush()
}

// Close waits for outstanding prefetches and flushes every saved change to
// the store.  The store itself is not closed.
func (p *Pipeline) Close() error {
	p.prefetcher.Wait()
	return p.committer.Flush()
}

// Prefetcher returns the read-ahead prefetcher layer.
func (p *Pipeline) Prefetcher() *ReadAheadPrefetcher {
	return p.prefetcher
}

// Cache returns the read/write cache layer.
func (p *Pipeline) Cache() *ReadWriteCache {
	return p.cache
}

// Committer returns the background committer layer.
func (p *Pipeline) Committer() *BackgroundCommitter {
	return p.committer
}

// Store returns the base store.
func (p *Pipeline) Store() CoinView {
	return p.store
}
