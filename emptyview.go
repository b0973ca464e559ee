// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
)

// EmptyView is a coin view that holds nothing.  Fetches report every id as
// missing and saves are discarded.  It terminates pipelines that only need
// in-memory state such as prefetch snapshots.
type EmptyView struct{}

// Ensure EmptyView implements the CoinView interface.
var _ CoinView = EmptyView{}

// FetchCoins returns a nil entry for every provided id.
func (EmptyView) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	return make([]*CoinEntry, len(ids)), nil
}

// SaveChanges discards the provided changes.
func (EmptyView) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	return checkChanges(ids, entries)
}

// Tip always returns nil.
func (EmptyView) Tip() *ChainPosition {
	return nil
}
