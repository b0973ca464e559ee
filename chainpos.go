// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// ChainPosition identifies the block a coin view reflects.
type ChainPosition struct {
	Hash     chainhash.Hash
	Height   uint32
	PrevHash chainhash.Hash
}

// NewChainPosition returns the chain position of the block with the provided
// header.
func NewChainPosition(header *wire.BlockHeader) ChainPosition {
	return ChainPosition{
		Hash:     header.BlockHash(),
		Height:   header.Height,
		PrevHash: header.PrevBlock,
	}
}

// String returns the position as <height>:<hash>.
func (p ChainPosition) String() string {
	return fmt.Sprintf("%d:%v", p.Height, p.Hash)
}

// clonePosition returns a copy of the provided position so callers can not
// mutate the tip held by a view.
func clonePosition(p *ChainPosition) *ChainPosition {
	if p == nil {
		return nil
	}
	pos := *p
	return &pos
}

// tipString formats a possibly undefined tip for log output.
func tipString(p *ChainPosition) string {
	if p == nil {
		return "<none>"
	}
	return p.String()
}
