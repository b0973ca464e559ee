// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// CommitBufferConfig houses the parameters used to create a CommitBuffer.
type CommitBufferConfig struct {
	// Inner is the view reads fall through to and commits are written to.
	Inner CoinView

	// Tip is the initial tip of the buffer.  The tip of Inner is used when it
	// is nil.
	Tip *ChainPosition

	// DisableReadThrough prevents entries loaded from Inner from being
	// retained by the buffer.
	DisableReadThrough bool

	// SpendOnly restricts reads to the entries the buffer already holds.
	// Fetching any other id fails with ErrNotPrefetched.
	SpendOnly bool
}

// CommitBuffer is a write-ahead buffer over another coin view.  Saved changes
// accumulate in memory until Commit pushes them to the inner view as a single
// SaveChanges call.
//
// Pruned entries are retained as tombstones until the buffer is cleared so
// the deletion reaches the inner view on commit.
type CommitBuffer struct {
	inner       CoinView
	readThrough bool
	spendOnly   bool

	mtx     sync.Mutex
	entries map[chainhash.Hash]*CoinEntry
	tip     *ChainPosition

	// dirty tracks the ids that have been saved since they were last
	// committed along with the write sequence of their latest save.  The tip
	// follows the same scheme via tipSeq and tipDirty.
	dirty    map[chainhash.Hash]uint64
	seq      uint64
	tipSeq   uint64
	tipDirty bool

	// generation is bumped by Clear.  Entries loaded from the inner view are
	// only retained when no clear happened while they were being loaded.
	generation uint64
}

// Ensure CommitBuffer implements the BackedView interface.
var _ BackedView = (*CommitBuffer)(nil)

// NewCommitBuffer returns a commit buffer over the view specified in the
// config.
func NewCommitBuffer(cfg *CommitBufferConfig) (*CommitBuffer, error) {
	if cfg.Inner == nil {
		return nil, missingInnerError("commit buffer")
	}
	tip := clonePosition(cfg.Tip)
	if tip == nil {
		tip = cfg.Inner.Tip()
	}
	return &CommitBuffer{
		inner:       cfg.Inner,
		readThrough: !cfg.DisableReadThrough,
		spendOnly:   cfg.SpendOnly,
		entries:     make(map[chainhash.Hash]*CoinEntry),
		dirty:       make(map[chainhash.Hash]uint64),
		tip:         tip,
	}, nil
}

// newSnapshotBuffer returns a spend-only buffer holding the provided entries.
// It is used to house the results of a prefetch.
func newSnapshotBuffer(tip *ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) *CommitBuffer {
	b := &CommitBuffer{
		inner:     EmptyView{},
		spendOnly: true,
		entries:   make(map[chainhash.Hash]*CoinEntry, len(ids)),
		dirty:     make(map[chainhash.Hash]uint64),
		tip:       clonePosition(tip),
	}
	for i := range ids {
		b.entries[ids[i]] = entries[i].Clone()
	}
	return b
}

// Inner returns the view the buffer wraps.
func (b *CommitBuffer) Inner() CoinView {
	return b.inner
}

// lookup returns the locally held entries for the provided ids along with
// whether each id is held at all.
func (b *CommitBuffer) lookup(ids []chainhash.Hash) ([]*CoinEntry, []bool) {
	results := make([]*CoinEntry, len(ids))
	found := make([]bool, len(ids))
	b.mtx.Lock()
	for i := range ids {
		entry, ok := b.entries[ids[i]]
		results[i], found[i] = entry.Clone(), ok
	}
	b.mtx.Unlock()
	return results, found
}

// FetchCoins returns the entries for the provided ids.  Ids the buffer does
// not hold are loaded from the inner view and, unless read-through is
// disabled, retained.  Pruned entries held by the buffer are returned as is.
//
// This function is safe for concurrent access.
func (b *CommitBuffer) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	b.mtx.Lock()
	results := make([]*CoinEntry, len(ids))
	var missIdxs []int
	var missIDs []chainhash.Hash
	for i := range ids {
		entry, ok := b.entries[ids[i]]
		if !ok {
			missIdxs = append(missIdxs, i)
			missIDs = append(missIDs, ids[i])
			continue
		}
		results[i] = entry.Clone()
	}
	generation := b.generation
	b.mtx.Unlock()

	if len(missIDs) == 0 {
		return results, nil
	}
	if b.spendOnly {
		str := fmt.Sprintf("%d of %d requested ids were not prefetched "+
			"(first %v)", len(missIDs), len(ids), missIDs[0])
		return nil, contextError(ErrNotPrefetched, str)
	}

	loaded, err := b.inner.FetchCoins(missIDs)
	if err != nil {
		return nil, err
	}
	if len(loaded) != len(missIDs) {
		return nil, AssertError(fmt.Sprintf("inner view returned %d entries "+
			"for %d ids", len(loaded), len(missIDs)))
	}

	// Retain the loaded entries unless the buffer was cleared in the mean
	// time.  Entries saved while the load was in flight take precedence.
	if b.readThrough {
		b.mtx.Lock()
		if b.generation == generation {
			for i, id := range missIDs {
				if _, ok := b.entries[id]; !ok {
					b.entries[id] = loaded[i].Clone()
				}
			}
		}
		b.mtx.Unlock()
	}
	for i, idx := range missIdxs {
		results[idx] = loaded[i]
	}
	return results, nil
}

// SaveChanges merges the provided entries into the buffer and moves the
// buffer to the provided tip.  Nothing is written to the inner view until
// Commit is invoked.
//
// This function is safe for concurrent access.
func (b *CommitBuffer) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	if err := checkChanges(ids, entries); err != nil {
		return err
	}

	b.mtx.Lock()
	b.seq++
	for i, id := range ids {
		if existing, ok := b.entries[id]; ok {
			b.entries[id] = mergeEntries(existing, entries[i])
		} else {
			b.entries[id] = entries[i].Clone()
		}
		b.dirty[id] = b.seq
	}
	b.tip = clonePosition(&tip)
	b.tipSeq = b.seq
	b.tipDirty = true
	b.mtx.Unlock()
	return nil
}

// Tip returns the tip of the buffer.
//
// This function is safe for concurrent access.
func (b *CommitBuffer) Tip() *ChainPosition {
	b.mtx.Lock()
	tip := clonePosition(b.tip)
	b.mtx.Unlock()
	return tip
}

// pendingChanges returns the uncommitted changes along with the write
// sequence of each one.  It must be called with the mutex held.
func (b *CommitBuffer) pendingChanges() ([]chainhash.Hash, []*CoinEntry, []uint64) {
	ids := make([]chainhash.Hash, 0, len(b.dirty))
	entries := make([]*CoinEntry, 0, len(b.dirty))
	versions := make([]uint64, 0, len(b.dirty))
	for id, seq := range b.dirty {
		ids = append(ids, id)
		entries = append(entries, b.entries[id].Clone())
		versions = append(versions, seq)
	}
	return ids, entries, versions
}

// pendingLocked returns whether the buffer holds uncommitted changes.  It
// must be called with the mutex held.
func (b *CommitBuffer) pendingLocked() bool {
	return len(b.dirty) > 0 || b.tipDirty
}

// Pending returns whether the buffer holds changes that have not been
// committed to the inner view.
func (b *CommitBuffer) Pending() bool {
	b.mtx.Lock()
	pending := b.pendingLocked()
	b.mtx.Unlock()
	return pending
}

// Commit writes every uncommitted change along with the tip of the buffer to
// the inner view in a single SaveChanges call.  It does nothing when there is
// nothing to commit.  Buffered entries stay in the buffer after a commit.
// When the inner view fails the changes remain pending so a later commit
// retries them.
//
// This function is safe for concurrent access.
func (b *CommitBuffer) Commit() error {
	b.mtx.Lock()
	if !b.pendingLocked() || b.tip == nil {
		b.mtx.Unlock()
		return nil
	}
	ids, entries, versions := b.pendingChanges()
	tip, tipSeq := *b.tip, b.tipSeq
	b.mtx.Unlock()

	if err := b.inner.SaveChanges(tip, ids, entries); err != nil {
		return err
	}

	// Only clear the marks for the versions that were written so changes
	// saved while the commit was in flight are committed next time.
	b.mtx.Lock()
	for i, id := range ids {
		if b.dirty[id] == versions[i] {
			delete(b.dirty, id)
		}
	}
	if b.tipSeq == tipSeq {
		b.tipDirty = false
	}
	b.mtx.Unlock()
	return nil
}

// ReplayInto saves the uncommitted changes of the buffer into the provided
// view without affecting the state of the buffer.
func (b *CommitBuffer) ReplayInto(view CoinView) error {
	b.mtx.Lock()
	if !b.pendingLocked() || b.tip == nil {
		b.mtx.Unlock()
		return nil
	}
	ids, entries, _ := b.pendingChanges()
	tip := *b.tip
	b.mtx.Unlock()

	return view.SaveChanges(tip, ids, entries)
}

// Clear drops every entry held by the buffer, including uncommitted ones.
// The tip is left unchanged.
func (b *CommitBuffer) Clear() {
	b.mtx.Lock()
	b.entries = make(map[chainhash.Hash]*CoinEntry)
	b.dirty = make(map[chainhash.Hash]uint64)
	b.tipDirty = false
	b.generation++
	b.mtx.Unlock()
}

// Len returns the number of entries held by the buffer.
func (b *CommitBuffer) Len() int {
	b.mtx.Lock()
	n := len(b.entries)
	b.mtx.Unlock()
	return n
}

// DirtyLen returns the number of entries that have not been committed.
func (b *CommitBuffer) DirtyLen() int {
	b.mtx.Lock()
	n := len(b.dirty)
	b.mtx.Unlock()
	return n
}
