// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/blockchain/standalone/v2"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// NewCoinEntryFromTx returns a coin entry with every output of the provided
// transaction unspent.
func NewCoinEntryFromTx(tx *wire.MsgTx, blockHeight uint32, coinBase bool) *CoinEntry {
	outputs := make([]TxOut, len(tx.TxOut))
	for i, txOut := range tx.TxOut {
		outputs[i] = TxOut{
			Value:    txOut.Value,
			Version:  txOut.Version,
			PkScript: txOut.PkScript,
		}
	}
	return NewCoinEntry(outputs, blockHeight, coinBase)
}

// RequiredTxIDs returns the ids of the transactions whose outputs the regular
// transactions of the block spend, excluding outputs created earlier in the
// same block.  Each id is reported once in the order it is first referenced.
func RequiredTxIDs(block *dcrutil.Block) []chainhash.Hash {
	txns := block.Transactions()
	created := make(map[chainhash.Hash]struct{}, len(txns))
	seen := make(map[chainhash.Hash]struct{})
	var ids []chainhash.Hash
	for txIdx, tx := range txns {
		msgTx := tx.MsgTx()
		if txIdx != 0 || !standalone.IsCoinBaseTx(msgTx, false) {
			for _, txIn := range msgTx.TxIn {
				prevHash := txIn.PreviousOutPoint.Hash
				if _, ok := created[prevHash]; ok {
					continue
				}
				if _, ok := seen[prevHash]; ok {
					continue
				}
				seen[prevHash] = struct{}{}
				ids = append(ids, prevHash)
			}
		}
		created[*tx.Hash()] = struct{}{}
	}
	return ids
}

// BlockChanges loads the coins the regular transactions of the block spend
// from the provided view, spends them and creates entries for the outputs of
// the block.  It returns the resulting change set in a form suitable for
// SaveChanges without modifying the view.
//
// An error of kind ErrMissingCoin is returned when the block spends an output
// that does not exist, ErrCoinAlreadySpent when it spends an output twice and
// ErrDuplicateTx when it creates a transaction that still has unspent outputs.
func BlockChanges(view CoinView, block *dcrutil.Block) ([]chainhash.Hash, []*CoinEntry, error) {
	height := block.MsgBlock().Header.Height
	txns := block.Transactions()

	// Load every coin the block spends along with every id it creates so
	// duplicates are detected.
	fetchIDs := RequiredTxIDs(block)
	for _, tx := range txns {
		fetchIDs = append(fetchIDs, *tx.Hash())
	}
	loaded, err := view.FetchCoins(fetchIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(loaded) != len(fetchIDs) {
		return nil, nil, AssertError(fmt.Sprintf("view returned %d entries "+
			"for %d ids", len(loaded), len(fetchIDs)))
	}

	// working houses the state of every touched id while order tracks the
	// order ids are first touched in.
	working := make(map[chainhash.Hash]*CoinEntry, len(fetchIDs))
	order := make([]chainhash.Hash, 0, len(fetchIDs))
	touched := make(map[chainhash.Hash]struct{}, len(fetchIDs))
	touch := func(id chainhash.Hash) {
		if _, ok := touched[id]; !ok {
			touched[id] = struct{}{}
			order = append(order, id)
		}
	}
	for i, id := range fetchIDs {
		if _, ok := working[id]; ok {
			continue
		}
		working[id] = loaded[i]
	}

	for txIdx, tx := range txns {
		msgTx := tx.MsgTx()
		isCoinBase := txIdx == 0 && standalone.IsCoinBaseTx(msgTx, false)
		if !isCoinBase {
			for _, txIn := range msgTx.TxIn {
				prevOut := &txIn.PreviousOutPoint
				// Entries pruned by an earlier spend in this block report
				// the spend itself as the problem.
				entry := working[prevOut.Hash]
				_, spentHere := touched[prevOut.Hash]
				if entry == nil || (entry.IsPruned() && !spentHere) {
					return nil, nil, missingCoinError(&prevOut.Hash,
						prevOut.Index)
				}
				if err := entry.Spend(prevOut.Index); err != nil {
					var cerr ContextError
					if errors.As(err, &cerr) {
						cerr.Description = fmt.Sprintf("tx %v input "+
							"spending %v: %s", tx.Hash(), prevOut,
							cerr.Description)
						return nil, nil, cerr
					}
					return nil, nil, err
				}
				touch(prevOut.Hash)
			}
		}

		txHash := *tx.Hash()
		if existing := working[txHash]; existing != nil && !existing.IsPruned() {
			str := fmt.Sprintf("tx %v at height %d overwrites a "+
				"transaction with unspent outputs", txHash, height)
			return nil, nil, contextError(ErrDuplicateTx, str)
		}
		working[txHash] = NewCoinEntryFromTx(msgTx, height, isCoinBase)
		touch(txHash)
	}

	entries := make([]*CoinEntry, len(order))
	for i, id := range order {
		entries[i] = working[id]
	}
	return order, entries, nil
}

// ConnectBlock applies the block to the provided view and moves the view to
// the block.
func ConnectBlock(view CoinView, block *dcrutil.Block) error {
	ids, entries, err := BlockChanges(view, block)
	if err != nil {
		return err
	}
	tip := NewChainPosition(&block.MsgBlock().Header)
	return view.SaveChanges(tip, ids, entries)
}
