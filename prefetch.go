// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/apbf"
)

const (
	// DefaultRecentCandidates is the default minimum number of recently
	// activated prefetch candidates that are remembered so they are not
	// prefetched again.
	DefaultRecentCandidates = 1000

	// recentCandidatesFPRate is the false positive rate of the filter of
	// recently activated candidates.  A false positive only skips a prefetch.
	recentCandidatesFPRate = 0.0001
)

// PrefetcherConfig houses the parameters used to create a
// ReadAheadPrefetcher.
type PrefetcherConfig struct {
	// Inner is the view prefetches load from and writes are forwarded to.
	Inner CoinView

	// RecentCandidates is the minimum number of recently activated
	// candidates remembered to avoid prefetching them again.
	// DefaultRecentCandidates is used when it is zero.
	RecentCandidates uint32
}

// prefetchTask houses the state of a single read-ahead of the coins a
// candidate block spends.
type prefetchTask struct {
	candidate ChainPosition
	ids       []chainhash.Hash

	// baseHeight is the height of the inner view when the task was launched
	// or -1 when the inner view had no tip.  appliedHeight is the height of
	// the most recent save reflected by the snapshot.  It is protected by the
	// prefetcher mutex.
	baseHeight    int64
	appliedHeight int64

	// done is closed once snapshot and err are set.  Neither is modified
	// afterward except that the snapshot receives replayed saves while the
	// prefetcher mutex is held.
	done     chan struct{}
	snapshot *CommitBuffer
	err      error
}

// ReadAheadPrefetcher loads the coins a block will spend before the block is
// processed.  A prefetch runs concurrently with the processing of the
// preceding block, so its snapshot is reconciled with every save made since
// it was launched before it is used to answer reads.
type ReadAheadPrefetcher struct {
	inner CoinView
	wg    sync.WaitGroup

	// mtx protects all of the fields below.
	mtx sync.Mutex

	// tasks houses the prefetches waiting for their parent block to be
	// saved keyed by the hash of that parent.  active is the prefetch that
	// answers reads, if any.
	tasks  map[chainhash.Hash]*prefetchTask
	active *prefetchTask

	// deltas houses a copy of every save that may still need to be replayed
	// into a snapshot keyed by height.  deltaHeights holds the same heights
	// in ascending order.
	deltas       map[int64]*CommitBuffer
	deltaHeights []int64

	// lastSaveHeight is the height of the most recent save or -1.
	// appliedSaveHeight is the height of the most recent save the inner view
	// finished applying or -1.  Recorded saves above it are never discarded.
	lastSaveHeight    int64
	appliedSaveHeight int64

	// recent tracks the hashes of recently activated candidates.
	recent *apbf.Filter
}

// Ensure ReadAheadPrefetcher implements the PrefetchView and BackedView
// interfaces.
var (
	_ PrefetchView = (*ReadAheadPrefetcher)(nil)
	_ BackedView   = (*ReadAheadPrefetcher)(nil)
)

// NewReadAheadPrefetcher returns a prefetcher over the view specified in the
// config.
func NewReadAheadPrefetcher(cfg *PrefetcherConfig) (*ReadAheadPrefetcher, error) {
	if cfg.Inner == nil {
		return nil, missingInnerError("read-ahead prefetcher")
	}
	recentCandidates := cfg.RecentCandidates
	if recentCandidates == 0 {
		recentCandidates = DefaultRecentCandidates
	}
	return &ReadAheadPrefetcher{
		inner:             cfg.Inner,
		tasks:             make(map[chainhash.Hash]*prefetchTask),
		deltas:            make(map[int64]*CommitBuffer),
		lastSaveHeight:    -1,
		appliedSaveHeight: -1,
		recent:            apbf.NewFilter(recentCandidates, recentCandidatesFPRate),
	}, nil
}

// Inner returns the view the prefetcher wraps.
func (p *ReadAheadPrefetcher) Inner() CoinView {
	return p.inner
}

// Tip returns the tip of the inner view.
func (p *ReadAheadPrefetcher) Tip() *ChainPosition {
	return p.inner.Tip()
}

// Prefetch starts loading the provided ids for the candidate block in the
// background.  The request is ignored when a prefetch for a block with the
// same parent is already known or the candidate was recently prefetched.
//
// This function is safe for concurrent access.
func (p *ReadAheadPrefetcher) Prefetch(candidate ChainPosition, ids []chainhash.Hash) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.tasks[candidate.PrevHash]; ok {
		return
	}
	if p.active != nil && p.active.candidate.PrevHash == candidate.PrevHash {
		return
	}
	if p.recent.Contains(candidate.Hash[:]) {
		return
	}

	baseHeight := int64(-1)
	tip := p.inner.Tip()
	if tip != nil {
		baseHeight = int64(tip.Height)
	}
	task := &prefetchTask{
		candidate:     candidate,
		ids:           append([]chainhash.Hash(nil), ids...),
		baseHeight:    baseHeight,
		appliedHeight: baseHeight,
		done:          make(chan struct{}),
	}

	// The candidate extends the current tip, so its prefetch answers reads
	// from now on.
	if tip != nil && tip.Hash == candidate.PrevHash {
		p.activate(task)
	} else {
		p.tasks[candidate.PrevHash] = task
	}

	p.wg.Add(1)
	go p.run(task)
}

// run loads the ids of the task into its snapshot.  It must be run as a
// goroutine.
func (p *ReadAheadPrefetcher) run(task *prefetchTask) {
	defer p.wg.Done()

	entries, err := p.inner.FetchCoins(task.ids)
	if err == nil && len(entries) != len(task.ids) {
		err = AssertError(fmt.Sprintf("inner view returned %d entries for "+
			"%d ids", len(entries), len(task.ids)))
	}
	if err != nil {
		log.Debugf("Prefetch of %d ids for block %v failed: %v",
			len(task.ids), task.candidate, err)
		task.err = err
	} else {
		task.snapshot = newSnapshotBuffer(nil, task.ids, entries)
	}
	close(task.done)
}

// activate makes the task the one answering reads.
//
// This function MUST be called with the mutex held.
func (p *ReadAheadPrefetcher) activate(task *prefetchTask) {
	p.active = task
	p.recent.Add(task.candidate.Hash[:])
}

// reset drops every prefetch and recorded save.
//
// This function MUST be called with the mutex held.
func (p *ReadAheadPrefetcher) reset() {
	p.tasks = make(map[chainhash.Hash]*prefetchTask)
	p.active = nil
	p.deltas = make(map[int64]*CommitBuffer)
	p.deltaHeights = p.deltaHeights[:0]
	p.appliedSaveHeight = -1
}

// pruneDeltas discards the recorded saves that every prefetch already
// reflects.  Saves the inner view has not finished applying are kept since a
// prefetch launched meanwhile reads the inner view from before them.
//
// This function MUST be called with the mutex held.
func (p *ReadAheadPrefetcher) pruneDeltas() {
	horizon := p.appliedSaveHeight
	if p.active != nil && p.active.appliedHeight < horizon {
		horizon = p.active.appliedHeight
	}
	for _, task := range p.tasks {
		if task.baseHeight < horizon {
			horizon = task.baseHeight
		}
	}

	var n int
	for n < len(p.deltaHeights) && p.deltaHeights[n] <= horizon {
		delete(p.deltas, p.deltaHeights[n])
		n++
	}
	p.deltaHeights = p.deltaHeights[n:]
}

// SaveChanges records a copy of the changes for reconciling prefetches that
// are still loading, forwards the changes to the inner view and activates the
// prefetch waiting for the saved block.
//
// This function is safe for concurrent access.
func (p *ReadAheadPrefetcher) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	if err := checkChanges(ids, entries); err != nil {
		return err
	}

	delta, err := NewCommitBuffer(&CommitBufferConfig{
		Inner:     EmptyView{},
		SpendOnly: true,
	})
	if err != nil {
		return err
	}
	if err := delta.SaveChanges(tip, ids, entries); err != nil {
		return err
	}

	// The save is recorded before it reaches the inner view so a prefetch
	// launched concurrently either observes it in the inner view or replays
	// it later.
	height := int64(tip.Height)
	p.mtx.Lock()
	if p.lastSaveHeight >= 0 && height <= p.lastSaveHeight {
		log.Debugf("Dropping prefetch state on non-advancing save of %v", tip)
		p.reset()
	}
	p.deltas[height] = delta
	p.deltaHeights = append(p.deltaHeights, height)
	p.lastSaveHeight = height
	p.mtx.Unlock()

	if err := p.inner.SaveChanges(tip, ids, entries); err != nil {
		p.mtx.Lock()
		p.reset()
		p.lastSaveHeight = -1
		p.mtx.Unlock()
		return err
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	if height == p.lastSaveHeight {
		p.appliedSaveHeight = height
	}
	if p.active != nil && p.active.candidate.Height <= tip.Height {
		p.active = nil
	}
	if task, ok := p.tasks[tip.Hash]; ok {
		delete(p.tasks, tip.Hash)
		p.activate(task)
	}
	for key, task := range p.tasks {
		if task.candidate.Height <= tip.Height {
			delete(p.tasks, key)
		}
	}
	p.pruneDeltas()
	return nil
}

// reconcile replays every recorded save the snapshot of the task does not
// reflect yet in ascending height order.
//
// This function MUST be called with the mutex held.
func (p *ReadAheadPrefetcher) reconcile(task *prefetchTask) error {
	for _, height := range p.deltaHeights {
		if height <= task.appliedHeight {
			continue
		}
		if err := p.deltas[height].ReplayInto(task.snapshot); err != nil {
			return err
		}
		task.appliedHeight = height
	}
	p.pruneDeltas()
	return nil
}

// deactivate stops the task from answering reads.
func (p *ReadAheadPrefetcher) deactivate(task *prefetchTask) {
	p.mtx.Lock()
	if p.active == task {
		p.active = nil
		p.pruneDeltas()
	}
	p.mtx.Unlock()
}

// FetchCoins returns the entries for the provided ids.  When a prefetch for
// the block being processed is active, it waits for the prefetch to finish
// and answers from its spend-only snapshot.  Ids the snapshot rejects as not
// prefetched are logged and loaded from the inner view.  A failed prefetch is discarded and every id is loaded from
// the inner view.  Pruned entries are reported as nil.
//
// This function is safe for concurrent access.
func (p *ReadAheadPrefetcher) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	p.mtx.Lock()
	task := p.active
	p.mtx.Unlock()
	if task == nil {
		return p.fetchInner(ids)
	}

	<-task.done
	if task.err != nil {
		p.deactivate(task)
		return p.fetchInner(ids)
	}

	p.mtx.Lock()
	if p.active != task {
		p.mtx.Unlock()
		return p.fetchInner(ids)
	}
	if err := p.reconcile(task); err != nil {
		p.mtx.Unlock()
		log.Debugf("Discarding prefetch for block %v: %v", task.candidate, err)
		p.deactivate(task)
		return p.fetchInner(ids)
	}
	results, err := task.snapshot.FetchCoins(ids)
	if err == nil {
		p.mtx.Unlock()
		return prunedAsMissing(results), nil
	}
	if !errors.Is(err, ErrNotPrefetched) {
		p.mtx.Unlock()
		return nil, err
	}
	log.Debugf("Read outside of the prefetch for block %v: %v",
		task.candidate, err)
	results, found := task.snapshot.lookup(ids)
	p.mtx.Unlock()

	var missIdxs []int
	var missIDs []chainhash.Hash
	for i := range ids {
		if !found[i] {
			missIdxs = append(missIdxs, i)
			missIDs = append(missIDs, ids[i])
		}
	}
	if len(missIDs) > 0 {
		loaded, err := p.inner.FetchCoins(missIDs)
		if err != nil {
			return nil, err
		}
		for i, idx := range missIdxs {
			results[idx] = loaded[i]
		}
	}
	return prunedAsMissing(results), nil
}

// fetchInner loads the ids from the inner view.
func (p *ReadAheadPrefetcher) fetchInner(ids []chainhash.Hash) ([]*CoinEntry, error) {
	results, err := p.inner.FetchCoins(ids)
	if err != nil {
		return nil, err
	}
	return prunedAsMissing(results), nil
}

// AccessCoins returns the entry for a single id.
func (p *ReadAheadPrefetcher) AccessCoins(id chainhash.Hash) (*CoinEntry, error) {
	results, err := p.FetchCoins([]chainhash.Hash{id})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Wait blocks until every prefetch launched so far has finished loading.
func (p *ReadAheadPrefetcher) Wait() {
	p.wg.Wait()
}

// prunedAsMissing replaces pruned entries with nil.
func prunedAsMissing(entries []*CoinEntry) []*CoinEntry {
	for i, entry := range entries {
		if entry != nil && entry.IsPruned() {
			entries[i] = nil
		}
	}
	return entries
}
