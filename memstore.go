// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// MemStore is a base store that keeps the coin set in memory.  Like the
// durable store, it never retains pruned entries.
type MemStore struct {
	mtx     sync.RWMutex
	entries map[chainhash.Hash]*CoinEntry
	tip     *ChainPosition
}

// Ensure MemStore implements the CoinView interface.
var _ CoinView = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store with an undefined tip.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[chainhash.Hash]*CoinEntry),
	}
}

// FetchCoins returns copies of the stored entries for the provided ids.
//
// This function is safe for concurrent access.
func (s *MemStore) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	results := make([]*CoinEntry, len(ids))
	s.mtx.RLock()
	for i := range ids {
		results[i] = s.entries[ids[i]].Clone()
	}
	s.mtx.RUnlock()
	return results, nil
}

// SaveChanges atomically applies the provided entries and advances the tip.
// Nil and pruned entries remove the id from the store.
//
// This function is safe for concurrent access.
func (s *MemStore) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	if err := checkChanges(ids, entries); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := checkTipAdvance(s.tip, &tip); err != nil {
		return err
	}
	for i, entry := range entries {
		if entry == nil || entry.IsPruned() {
			delete(s.entries, ids[i])
			continue
		}
		s.entries[ids[i]] = entry.Clone()
	}
	s.tip = clonePosition(&tip)
	return nil
}

// Tip returns the tip of the stored coin set.
//
// This function is safe for concurrent access.
func (s *MemStore) Tip() *ChainPosition {
	s.mtx.RLock()
	tip := clonePosition(s.tip)
	s.mtx.RUnlock()
	return tip
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mtx.RLock()
	n := len(s.entries)
	s.mtx.RUnlock()
	return n
}

// checkTipAdvance returns ErrTipRegression when next is lower than the
// current tip of a store.
func checkTipAdvance(current, next *ChainPosition) error {
	if current != nil && next.Height < current.Height {
		str := fmt.Sprintf("refusing to move tip from %v back to %v",
			current, next)
		return contextError(ErrTipRegression, str)
	}
	return nil
}
