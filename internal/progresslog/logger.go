// Copyright (c) 2015-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package progresslog

import (
	"sync"
	"time"

	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
)

// logInterval is the minimum time between two unforced progress messages.
const logInterval = 10 * time.Second

// pickNoun returns the singular or plural form of a noun depending on the
// provided count.
func pickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// Logger provides periodic logging of progress towards connecting blocks to a
// coin view.
type Logger struct {
	sync.Mutex
	subsystemLogger slog.Logger
	progressAction  string

	// lastLogTime tracks the last time a log statement was shown.
	lastLogTime time.Time

	// These fields accumulate information about blocks between log statements.
	receivedBlocks  uint64
	receivedTxns    uint64
	receivedSpends  uint64
	receivedOutputs uint64
}

// New returns a new block progress logger.
func New(progressAction string, logger slog.Logger) *Logger {
	return &Logger{
		lastLogTime:     time.Now(),
		progressAction:  progressAction,
		subsystemLogger: logger,
	}
}

// countSpends returns the number of outputs spent by the regular transactions
// of the block.  The coinbase input does not spend anything.
func countSpends(block *wire.MsgBlock) uint64 {
	var spends uint64
	for i, tx := range block.Transactions {
		if i == 0 {
			continue
		}
		spends += uint64(len(tx.TxIn))
	}
	return spends
}

// countOutputs returns the number of outputs created by the block.
func countOutputs(block *wire.MsgBlock) uint64 {
	var outputs uint64
	for _, tx := range block.Transactions {
		outputs += uint64(len(tx.TxOut))
	}
	return outputs
}

// LogProgress accumulates details for the provided block and periodically
// (every 10 seconds) logs an information message to show progress to the user
// along with duration and totals included.
//
// The force flag may be used to force a log message to be shown regardless of
// the time the last one was shown.  The hit ratio function is only invoked
// when a message is shown.
//
// The progress message is templated as follows:
//
//	{progressAction} {numProcessed} {blocks|block} in the last {timePeriod}
//	({numTxs} {transactions|transaction}, {numSpent} spent,
//	{numCreated} created, height {lastBlockHeight}, cache hit ratio
//	{hitRatio}%)
func (l *Logger) LogProgress(block *wire.MsgBlock, forceLog bool, hitRatioFn func() float64) {
	l.Lock()
	defer l.Unlock()

	l.receivedBlocks++
	l.receivedTxns += uint64(len(block.Transactions))
	l.receivedSpends += countSpends(block)
	l.receivedOutputs += countOutputs(block)
	now := time.Now()
	duration := now.Sub(l.lastLogTime)
	if !forceLog && duration < logInterval {
		return
	}

	l.subsystemLogger.Infof("%s %d %s in the last %0.2fs (%d %s, %d spent, "+
		"%d created, height %d, cache hit ratio %0.2f%%)", l.progressAction,
		l.receivedBlocks, pickNoun(l.receivedBlocks, "block", "blocks"),
		duration.Seconds(),
		l.receivedTxns, pickNoun(l.receivedTxns, "transaction", "transactions"),
		l.receivedSpends, l.receivedOutputs, block.Header.Height,
		hitRatioFn())

	l.receivedBlocks = 0
	l.receivedTxns = 0
	l.receivedSpends = 0
	l.receivedOutputs = 0
	l.lastLogTime = now
}

// SetLastLogTime updates the last time data was logged to the provided time.
func (l *Logger) SetLastLogTime(time time.Time) {
	l.Lock()
	l.lastLogTime = time
	l.Unlock()
}
