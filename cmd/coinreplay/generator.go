// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/decred/coinview"
	"github.com/decred/dcrd/blockchain/standalone/v2"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

const (
	// blockSubsidy is the value of the single output of every coinbase.
	blockSubsidy = 50 * 1e8

	// targetBlockSpacing is the time between the timestamps of two
	// consecutive synthetic blocks.
	targetBlockSpacing = 5 * time.Minute

	// minOutputValue is the smallest value a generated transaction splits
	// into a separate output.
	minOutputValue = 1000
)

// genesisTime is the timestamp of the block at height zero of a synthetic
// chain.
var genesisTime = time.Unix(1454954400, 0)

// p2pkhScript is the template of the scripts locking generated outputs.  The
// pubkey hash is randomized per output.
var p2pkhScript = []byte{
	0x76, 0xa9, 0x14, // OP_DUP OP_HASH160 OP_DATA_20
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0x88, 0xac, // OP_EQUALVERIFY OP_CHECKSIG
}

// spendableOutput is an unspent output the generator may spend.
type spendableOutput struct {
	outPoint wire.OutPoint
	value    int64
}

// chainGenerator produces a chain of blocks whose regular transactions spend
// random outputs created by earlier blocks of the chain.
type chainGenerator struct {
	txPerBlock int
	maxInputs  int

	prevHash chainhash.Hash
	height   uint32
	unspent  []spendableOutput
}

// newChainGenerator returns a generator that extends the provided tip, or
// starts a new chain at height zero when it is nil.  Outputs created before
// the tip are unknown to the generator and left unspent.
func newChainGenerator(tip *coinview.ChainPosition, txPerBlock, maxInputs int) *chainGenerator {
	g := &chainGenerator{
		txPerBlock: txPerBlock,
		maxInputs:  maxInputs,
	}
	if tip != nil {
		g.prevHash = tip.Hash
		g.height = tip.Height + 1
	}
	return g
}

// randomPkScript returns a pay-to-pubkey-hash script with a random hash.
func randomPkScript() []byte {
	script := make([]byte, len(p2pkhScript))
	copy(script, p2pkhScript)
	rand.Read(script[3:23])
	return script
}

// coinbaseTx returns the coinbase for the provided height.  The lock time
// keeps coinbase ids unique since the id does not commit to the signature
// script.
func coinbaseTx(height uint32) *wire.MsgTx {
	tx := wire.NewMsgTx()
	prevOut := wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex,
		wire.TxTreeRegular)
	sigScript := []byte{0x04, byte(height), byte(height >> 8),
		byte(height >> 16), byte(height >> 24)}
	tx.AddTxIn(wire.NewTxIn(prevOut, blockSubsidy, sigScript))
	tx.AddTxOut(wire.NewTxOut(blockSubsidy, randomPkScript()))
	tx.LockTime = height
	return tx
}

// takeRandomOutput removes a random output from the spendable set.
func (g *chainGenerator) takeRandomOutput() spendableOutput {
	idx := rand.IntN(len(g.unspent))
	out := g.unspent[idx]
	last := len(g.unspent) - 1
	g.unspent[idx] = g.unspent[last]
	g.unspent = g.unspent[:last]
	return out
}

// spendTx returns a transaction spending up to maxInputs random outputs and
// splitting their value into two outputs.  It returns nil when nothing is
// left to spend.
func (g *chainGenerator) spendTx() *wire.MsgTx {
	if len(g.unspent) == 0 {
		return nil
	}

	tx := wire.NewMsgTx()
	numInputs := 1 + rand.IntN(g.maxInputs)
	var total int64
	for i := 0; i < numInputs && len(g.unspent) > 0; i++ {
		out := g.takeRandomOutput()
		tx.AddTxIn(wire.NewTxIn(&out.outPoint, out.value, nil))
		total += out.value
	}

	if total < 2*minOutputValue {
		tx.AddTxOut(wire.NewTxOut(total, randomPkScript()))
		return tx
	}
	split := minOutputValue + rand.Int64N(total-2*minOutputValue+1)
	tx.AddTxOut(wire.NewTxOut(split, randomPkScript()))
	tx.AddTxOut(wire.NewTxOut(total-split, randomPkScript()))
	return tx
}

// addOutputs makes the outputs of the transaction spendable by later blocks.
func (g *chainGenerator) addOutputs(tx *wire.MsgTx) {
	txHash := tx.TxHash()
	for i, txOut := range tx.TxOut {
		g.unspent = append(g.unspent, spendableOutput{
			outPoint: wire.OutPoint{
				Hash:  txHash,
				Index: uint32(i),
				Tree:  wire.TxTreeRegular,
			},
			value: txOut.Value,
		})
	}
}

// nextBlock returns the next block of the chain.
func (g *chainGenerator) nextBlock() (*dcrutil.Block, error) {
	txns := []*wire.MsgTx{coinbaseTx(g.height)}
	for i := 0; i < g.txPerBlock; i++ {
		tx := g.spendTx()
		if tx == nil {
			break
		}
		txns = append(txns, tx)
	}

	header := wire.BlockHeader{
		Version:    1,
		PrevBlock:  g.prevHash,
		MerkleRoot: standalone.CalcTxTreeMerkleRoot(txns),
		Height:     g.height,
		Timestamp:  genesisTime.Add(time.Duration(g.height) * targetBlockSpacing),
	}
	msgBlock := wire.NewMsgBlock(&header)
	for _, tx := range txns {
		if err := msgBlock.AddTransaction(tx); err != nil {
			return nil, err
		}
	}
	for _, tx := range txns {
		g.addOutputs(tx)
	}

	g.prevHash = header.BlockHash()
	g.height++
	return dcrutil.NewBlock(msgBlock), nil
}

// numSpendable returns the number of outputs the generator may spend.
func (g *chainGenerator) numSpendable() int {
	return len(g.unspent)
}
