// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// testPkScript is a pay-to-pubkey-hash script used for every test output.
var testPkScript = hexToBytes("76a914ee8bd501094a7d5ca318da2506de35e1cb025ddc88ac")

// testCoinbase returns a coinbase transaction for the provided height paying
// the provided amount to a single output.
func testCoinbase(height uint32, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx()
	prevOut := wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex,
		wire.TxTreeRegular)
	tx.AddTxIn(wire.NewTxIn(prevOut, value, []byte{0x51, byte(height)}))
	tx.AddTxOut(wire.NewTxOut(value, testPkScript))
	tx.LockTime = height
	return tx
}

// testSpendTx returns a transaction spending the provided outputs and
// creating one output per provided value.
func testSpendTx(prevOuts []wire.OutPoint, values ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx()
	for i := range prevOuts {
		tx.AddTxIn(wire.NewTxIn(&prevOuts[i], wire.NullValueIn, nil))
	}
	for _, value := range values {
		tx.AddTxOut(wire.NewTxOut(value, testPkScript))
	}
	return tx
}

// testOutPoint returns the regular tree outpoint of the transaction output.
func testOutPoint(tx *wire.MsgTx, index uint32) wire.OutPoint {
	hash := tx.TxHash()
	return *wire.NewOutPoint(&hash, index, wire.TxTreeRegular)
}

// testBlock returns a block at the provided height that extends prevHash and
// holds the provided transactions.
func testBlock(t *testing.T, height uint32, prevHash chainhash.Hash, txns ...*wire.MsgTx) *dcrutil.Block {
	t.Helper()

	msgBlock := wire.NewMsgBlock(&wire.BlockHeader{
		Version:   1,
		PrevBlock: prevHash,
		Height:    height,
		Timestamp: time.Unix(1700000000+int64(height)*300, 0),
	})
	for _, tx := range txns {
		if err := msgBlock.AddTransaction(tx); err != nil {
			t.Fatalf("unable to add transaction: %v", err)
		}
	}
	return dcrutil.NewBlock(msgBlock)
}

// connectTestData houses a store holding a single transaction with two
// outputs along with a block spending it.
type connectTestData struct {
	store   *MemStore
	genesis *wire.MsgTx
	block1  *dcrutil.Block
	cb1     *wire.MsgTx
	spend1  *wire.MsgTx
	spend2  *wire.MsgTx
}

// newConnectTestData returns a store at height 0 that holds a transaction
// with two outputs and a block at height 1 that:
//
//   - spends output 0 of that transaction in spend1
//   - spends output 1 of spend1 in spend2 within the same block
func newConnectTestData(t *testing.T) *connectTestData {
	t.Helper()

	genesis := testSpendTx(nil, 10e8, 20e8)
	genesis.LockTime = 1
	store := NewMemStore()
	genesisTip := ChainPosition{Hash: testHash(0xfff)}
	mustSave(t, store, genesisTip, []chainhash.Hash{genesis.TxHash()},
		[]*CoinEntry{NewCoinEntryFromTx(genesis, 0, false)})

	cb1 := testCoinbase(1, 5e8)
	spend1 := testSpendTx([]wire.OutPoint{testOutPoint(genesis, 0)}, 4e8, 6e8)
	spend2 := testSpendTx([]wire.OutPoint{testOutPoint(spend1, 1)}, 5e8)
	block1 := testBlock(t, 1, genesisTip.Hash, cb1, spend1, spend2)
	return &connectTestData{
		store:   store,
		genesis: genesis,
		block1:  block1,
		cb1:     cb1,
		spend1:  spend1,
		spend2:  spend2,
	}
}

// TestRequiredTxIDs ensures only ids of coins created before the block are
// required and that each is reported once.
func TestRequiredTxIDs(t *testing.T) {
	t.Parallel()

	data := newConnectTestData(t)
	got := RequiredTxIDs(data.block1)
	want := []chainhash.Hash{data.genesis.TxHash()}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mismatched ids -- got %v, want %v", got, want)
	}

	other := testSpendTx(nil, 1e8)
	other.LockTime = 99
	spendBoth := testSpendTx([]wire.OutPoint{testOutPoint(data.genesis, 1),
		testOutPoint(other, 0), testOutPoint(data.genesis, 0)}, 1e8)
	block := testBlock(t, 2, *data.block1.Hash(), testCoinbase(2, 1),
		spendBoth)
	got = RequiredTxIDs(block)
	want = []chainhash.Hash{data.genesis.TxHash(), other.TxHash()}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mismatched ids -- got %v, want %v", got, want)
	}
}

// TestConnectBlock ensures connecting a block spends the coins it references,
// creates coins for its outputs and moves the view to the block.
func TestConnectBlock(t *testing.T) {
	t.Parallel()

	data := newConnectTestData(t)
	ids, entries, err := BlockChanges(data.store, data.block1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantIDs := []chainhash.Hash{data.cb1.TxHash(), data.genesis.TxHash(),
		data.spend1.TxHash(), data.spend2.TxHash()}
	if !reflect.DeepEqual(ids, wantIDs) {
		t.Fatalf("mismatched change ids -- got %v, want %v", ids, wantIDs)
	}
	if len(entries) != len(ids) {
		t.Fatalf("mismatched change set lengths")
	}

	// Computing the changes must not modify the view.
	if got := mustFetch(t, data.store, data.genesis.TxHash()); got[0].IsSpent(0) {
		t.Fatal("computing changes modified the view")
	}

	if err := ConnectBlock(data.store, data.block1); err != nil {
		t.Fatalf("unexpected error connecting block: %v", err)
	}
	wantTip := NewChainPosition(&data.block1.MsgBlock().Header)
	if tip := data.store.Tip(); tip == nil || *tip != wantTip {
		t.Fatalf("unexpected tip -- got %v, want %v", tip, wantTip)
	}

	got := mustFetch(t, data.store, wantIDs...)
	wantSpent := [][]bool{{false}, {true, false}, {false, true}, {false}}
	for i, entry := range got {
		if entry == nil {
			t.Fatalf("missing entry for %v", wantIDs[i])
		}
		for idx, spent := range wantSpent[i] {
			if entry.IsSpent(uint32(idx)) != spent {
				t.Fatalf("unexpected spent state for %v:%d -- got %v, "+
					"want %v", wantIDs[i], idx, !spent, spent)
			}
		}
	}
	if !got[0].IsCoinBase() || got[2].IsCoinBase() {
		t.Fatal("unexpected coinbase flags")
	}
	if got[0].BlockHeight() != 1 || got[1].BlockHeight() != 0 {
		t.Fatal("unexpected block heights")
	}
	if out := got[3].Output(0); out == nil || out.Value != 5e8 {
		t.Fatalf("unexpected output %v", out)
	}
}

// TestConnectBlockErrors ensures blocks that spend missing or spent coins or
// duplicate unspent transactions are rejected without modifying the view.
func TestConnectBlockErrors(t *testing.T) {
	t.Parallel()

	data := newConnectTestData(t)
	if err := ConnectBlock(data.store, data.block1); err != nil {
		t.Fatalf("unexpected error connecting block: %v", err)
	}
	prevHash := *data.block1.Hash()
	missing := testSpendTx(nil, 1)
	missing.LockTime = 1234

	tests := []struct {
		name    string
		txns    []*wire.MsgTx
		wantErr error
	}{{
		name: "spend of missing transaction",
		txns: []*wire.MsgTx{testCoinbase(2, 1e8),
			testSpendTx([]wire.OutPoint{testOutPoint(missing, 0)}, 1)},
		wantErr: ErrMissingCoin,
	}, {
		name: "spend of output index out of range",
		txns: []*wire.MsgTx{testCoinbase(2, 1e8),
			testSpendTx([]wire.OutPoint{testOutPoint(data.cb1, 5)}, 1)},
		wantErr: ErrMissingCoin,
	}, {
		name: "spend of spent output",
		txns: []*wire.MsgTx{testCoinbase(2, 1e8),
			testSpendTx([]wire.OutPoint{testOutPoint(data.genesis, 0)}, 1)},
		wantErr: ErrCoinAlreadySpent,
	}, {
		name: "double spend within block",
		txns: []*wire.MsgTx{testCoinbase(2, 1e8),
			testSpendTx([]wire.OutPoint{testOutPoint(data.genesis, 1)}, 1),
			testSpendTx([]wire.OutPoint{testOutPoint(data.genesis, 1)}, 2)},
		wantErr: ErrCoinAlreadySpent,
	}, {
		name: "same output spent twice by one transaction",
		txns: []*wire.MsgTx{testCoinbase(2, 1e8),
			testSpendTx([]wire.OutPoint{testOutPoint(data.genesis, 1),
				testOutPoint(data.genesis, 1)}, 1)},
		wantErr: ErrCoinAlreadySpent,
	}, {
		name:    "duplicate of unspent transaction",
		txns:    []*wire.MsgTx{testCoinbase(1, 5e8)},
		wantErr: ErrDuplicateTx,
	}}

	for _, test := range tests {
		block := testBlock(t, 2, prevHash, test.txns...)
		err := ConnectBlock(data.store, block)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%s: mismatched err -- got %v, want %v", test.name, err,
				test.wantErr)
			continue
		}
		if tip := data.store.Tip(); tip.Height != 1 {
			t.Errorf("%s: failed connect moved the tip to %v", test.name,
				tip)
		}
	}

	// The view is untouched, so output 1 of the genesis transaction is
	// still spendable.
	got := mustFetch(t, data.store, data.genesis.TxHash())
	if got[0].IsSpent(1) {
		t.Fatal("failed connect modified the view")
	}
}
