// Copyright (c) 2021-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"

	"github.com/jrick/bitset"
)

// TxOut houses the details of a single transaction output tracked by a coin
// entry.
type TxOut struct {
	Value    int64
	Version  uint16
	PkScript []byte
}

// CoinEntry houses the outputs of a single transaction along with which of
// those outputs have been spent.
//
// Output scripts are treated as immutable once an entry is created and are
// shared between clones.  The spent bitmap is the only mutable state and it is
// copied by Clone.
type CoinEntry struct {
	// outputs houses every output of the transaction in index order.
	outputs []TxOut

	// spent has a set bit for every output that has been spent.  It always
	// holds at least len(outputs) bits.
	spent bitset.Bytes

	// height is the height of the block that contains the transaction.
	height uint32

	// coinBase is set when the transaction is the coinbase of its block.
	coinBase bool
}

// NewCoinEntry returns a coin entry with every provided output unspent.
func NewCoinEntry(outputs []TxOut, blockHeight uint32, coinBase bool) *CoinEntry {
	return &CoinEntry{
		outputs:  outputs,
		spent:    bitset.NewBytes(len(outputs)),
		height:   blockHeight,
		coinBase: coinBase,
	}
}

// IsCoinBase returns whether or not the transaction the entry represents is a
// coinbase.
func (entry *CoinEntry) IsCoinBase() bool {
	return entry.coinBase
}

// BlockHeight returns the height of the block containing the transaction the
// entry represents.
func (entry *CoinEntry) BlockHeight() uint32 {
	return entry.height
}

// NumOutputs returns the number of output slots, spent or not, the entry
// tracks.
func (entry *CoinEntry) NumOutputs() int {
	return len(entry.outputs)
}

// IsSpent returns whether or not the output at the provided index has been
// spent.  Indexes the entry does not track are reported as spent.
func (entry *CoinEntry) IsSpent(index uint32) bool {
	if int64(index) >= int64(len(entry.outputs)) {
		return true
	}
	return entry.spent.Get(int(index))
}

// Output returns the output at the provided index or nil when the index is
// out of range or the output has been spent.
func (entry *CoinEntry) Output(index uint32) *TxOut {
	if entry.IsSpent(index) {
		return nil
	}
	out := entry.outputs[index]
	return &out
}

// UnspentCount returns the number of outputs that have not been spent.
func (entry *CoinEntry) UnspentCount() int {
	var n int
	for i := range entry.outputs {
		if !entry.spent.Get(i) {
			n++
		}
	}
	return n
}

// IsPruned returns whether or not every output of the entry has been spent.
func (entry *CoinEntry) IsPruned() bool {
	return entry.UnspentCount() == 0
}

// Spend marks the output at the provided index as spent.
func (entry *CoinEntry) Spend(index uint32) error {
	if int64(index) >= int64(len(entry.outputs)) {
		return contextError(ErrMissingCoin, fmt.Sprintf("output index %d "+
			"out of range for entry with %d outputs", index,
			len(entry.outputs)))
	}
	if entry.spent.Get(int(index)) {
		return contextError(ErrCoinAlreadySpent, fmt.Sprintf("output index "+
			"%d already spent", index))
	}
	entry.spent.Set(int(index))
	return nil
}

// Merge folds the state of other into the entry.  An output ends up spent if
// it is spent on either side, and output slots only known to other are
// adopted.  Merging is idempotent and merging with an entry whose spent
// outputs are a superset of the entry's yields that superset.
func (entry *CoinEntry) Merge(other *CoinEntry) {
	if other == nil || other == entry {
		return
	}

	if len(other.outputs) > len(entry.outputs) {
		grown := bitset.NewBytes(len(other.outputs))
		for i := range entry.outputs {
			if entry.spent.Get(i) {
				grown.Set(i)
			}
		}
		outputs := make([]TxOut, len(other.outputs))
		copy(outputs, entry.outputs)
		copy(outputs[len(entry.outputs):], other.outputs[len(entry.outputs):])
		for i := len(entry.outputs); i < len(other.outputs); i++ {
			if other.spent.Get(i) {
				grown.Set(i)
			}
		}
		entry.outputs = outputs
		entry.spent = grown
	}

	n := len(other.outputs)
	for i := 0; i < n; i++ {
		if other.spent.Get(i) {
			entry.spent.Set(i)
		}
	}
}

// Clone returns a deep copy of the entry.  Cloning a nil entry returns nil.
func (entry *CoinEntry) Clone() *CoinEntry {
	if entry == nil {
		return nil
	}

	spent := make(bitset.Bytes, len(entry.spent))
	copy(spent, entry.spent)
	return &CoinEntry{
		outputs:  entry.outputs,
		spent:    spent,
		height:   entry.height,
		coinBase: entry.coinBase,
	}
}

// mergeEntries returns the result of folding incoming into existing following
// the rules of CoinEntry.Merge.  A nil incoming entry is a deletion and wins.
// Neither argument is modified.
func mergeEntries(existing, incoming *CoinEntry) *CoinEntry {
	if incoming == nil || existing == nil {
		return incoming.Clone()
	}
	merged := existing.Clone()
	merged.Merge(incoming)
	return merged
}
