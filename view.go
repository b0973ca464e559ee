// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// CoinView is the contract shared by every layer of the coin set.
//
// The interface contract requires that all of these methods are safe for
// concurrent access by readers.  SaveChanges is expected to be invoked by a
// single writer at a time, in increasing chain order.
type CoinView interface {
	// FetchCoins returns the entries for the provided transaction ids in the
	// same order as the ids.  Ids without a known entry result in a nil slot.
	// Buffering layers may return pruned entries which callers must treat
	// as missing.
	FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error)

	// SaveChanges records the provided entries and advances the view to the
	// given tip.  A nil or pruned entry removes the id.  The ids and entries
	// slices must be the same length.
	SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error

	// Tip returns the position the view currently reflects or nil when the
	// view has never been saved to.
	Tip() *ChainPosition
}

// BackedView is a CoinView that wraps another view.
type BackedView interface {
	CoinView

	// Inner returns the view wrapped by this view.
	Inner() CoinView
}

// PrefetchView is a CoinView that is able to load the coins a block spends
// ahead of the block being processed.
type PrefetchView interface {
	CoinView

	// Prefetch starts loading the provided ids in anticipation of the block
	// identified by candidate being connected next.  It does not block.
	Prefetch(candidate ChainPosition, ids []chainhash.Hash)
}

// checkChanges ensures the change set passed to SaveChanges is well formed.
func checkChanges(ids []chainhash.Hash, entries []*CoinEntry) error {
	if len(ids) != len(entries) {
		str := fmt.Sprintf("mismatched change set: %d ids, %d entries",
			len(ids), len(entries))
		return contextError(ErrMismatchedChanges, str)
	}
	return nil
}

// missingInnerError returns the error used when a layered view is constructed
// without the view it wraps.
func missingInnerError(component string) error {
	str := fmt.Sprintf("%s requires an inner coin view", component)
	return contextError(ErrMissingInnerView, str)
}

// cloneEntries returns deep copies of the provided entries.
func cloneEntries(entries []*CoinEntry) []*CoinEntry {
	clones := make([]*CoinEntry, len(entries))
	for i, entry := range entries {
		clones[i] = entry.Clone()
	}
	return clones
}
