// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package coinview implements a layered, concurrency safe view of the set of
unspent transaction outputs (the coin set) for a full node.

The coin set is exposed through the CoinView interface.  Every layer provided
by this package implements the interface and wraps another CoinView, so a
node composes the layers it needs into a pipeline:

	ReadAheadPrefetcher -> ReadWriteCache -> BackgroundCommitter ->
	    ParallelFetcher -> LevelDBStore (or MemStore)

Reads travel down the pipeline and stop at the first layer that can answer
authoritatively.  Writes are absorbed by the BackgroundCommitter and only
reach the durable store when a flush drains them, which happens periodically,
once enough entries are pending, or on demand through Flush.

# Coin Entries

A CoinEntry holds every output of a single transaction along with a bitmap of
which outputs have been spent.  An entry whose outputs are all spent is pruned.
Durable stores remove pruned entries while in-memory buffers retain them as
tombstones so the deletion reaches the store on the next commit.  Callers must
treat pruned entries the same as missing ones.

# Connecting Blocks

ConnectBlock and BlockChanges translate a dcrutil.Block into the change set
SaveChanges expects.  RequiredTxIDs reports the ids a block will spend so the
caller can hand them to a ReadAheadPrefetcher before the block is processed.

# Errors

Errors returned by this package are either an ErrorKind, a ContextError
wrapping an ErrorKind, or an AssertError.  Use errors.Is to test for a
specific kind:

	if errors.Is(err, coinview.ErrMissingCoin) {
		// the block spends an output that does not exist
	}
*/
package coinview
