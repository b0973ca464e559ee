// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/decred/coinview"
	"github.com/decred/coinview/internal/progresslog"
)

// replayer connects generated blocks to a coin view pipeline while the next
// block is prefetched.
type replayer struct {
	view      coinview.PrefetchView
	gen       *chainGenerator
	numBlocks uint32
	progress  *progresslog.Logger
	hitRatio  func() float64
}

// run connects up to numBlocks blocks and returns the number of blocks that
// were connected.  It returns early without error when the context is
// canceled.
func (r *replayer) run(ctx context.Context) (uint32, error) {
	if r.numBlocks == 0 {
		return 0, nil
	}
	next, err := r.gen.nextBlock()
	if err != nil {
		return 0, err
	}

	var connected uint32
	for connected < r.numBlocks {
		if shutdownRequested(ctx) {
			rplyLog.Infof("Replay interrupted after %d blocks", connected)
			break
		}

		block := next
		last := connected+1 == r.numBlocks
		if !last {
			// Generate the next block and start loading the coins it spends
			// while the current one is connected.
			next, err = r.gen.nextBlock()
			if err != nil {
				return connected, err
			}
			candidate := coinview.NewChainPosition(&next.MsgBlock().Header)
			r.view.Prefetch(candidate, coinview.RequiredTxIDs(next))
		}

		if err := coinview.ConnectBlock(r.view, block); err != nil {
			return connected, fmt.Errorf("failed to connect block %v "+
				"(height %d): %w", block.Hash(), block.Height(), err)
		}
		connected++
		r.progress.LogProgress(block.MsgBlock(), last, r.hitRatio)
	}
	return connected, nil
}
