// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

const (
	// DefaultFlushPeriod is the default amount of time between background
	// flushes to the store.
	DefaultFlushPeriod = 2 * time.Minute

	// DefaultMaxPendingEntries is the default number of uncommitted entries
	// that triggers a background flush regardless of the flush period.
	DefaultMaxPendingEntries = 250000
)

// BackgroundCommitterConfig houses the parameters used to create a
// BackgroundCommitter.
type BackgroundCommitterConfig struct {
	// Store is the view changes are eventually drained to.
	Store CoinView

	// FlushPeriod is the minimum amount of time between flushes triggered by
	// saves.  DefaultFlushPeriod is used when it is zero.
	FlushPeriod time.Duration

	// MaxPendingEntries is the number of uncommitted entries that triggers a
	// flush before the flush period elapses.  DefaultMaxPendingEntries is
	// used when it is zero and a negative value disables the trigger.
	MaxPendingEntries int
}

// FlushStats houses statistics about the flushes a BackgroundCommitter has
// performed.
type FlushStats struct {
	Drains       uint64
	Failures     uint64
	LastDuration time.Duration
	LastFlush    time.Time
}

// BackgroundCommitter absorbs writes in memory and drains them to the store
// on a background goroutine so writers are never blocked on the store.
//
// Two commit buffers are stacked over the store.  Writers save into the front
// buffer.  A flush moves everything from the front buffer into the committing
// buffer, which is then committed to the store while writers continue to save
// into the now empty front buffer.  Reads go through the front buffer and
// fall through to the committing buffer and the store, so data being drained
// remains visible.
type BackgroundCommitter struct {
	store       CoinView
	committing  *CommitBuffer
	front       *CommitBuffer
	flushPeriod time.Duration
	maxPending  int

	// mtx serializes saves with starting a flush so that moving the front
	// buffer into the committing buffer and clearing it can not interleave
	// with a save.
	mtx sync.Mutex

	// flushDone is closed when the in flight drain finishes.  It is nil when
	// no drain was started since the last one was observed to finish.
	flushDone chan struct{}

	// drainErr is the result of the most recent drain.
	drainErr      error
	lastFlushTime time.Time
	stats         FlushStats

	// timeNow defines the function to use to get the current local time.  It
	// defaults to time.Now but an alternative function can be provided for
	// testing purposes.
	timeNow func() time.Time
}

// Ensure BackgroundCommitter implements the BackedView interface.
var _ BackedView = (*BackgroundCommitter)(nil)

// NewBackgroundCommitter returns a background committer over the store
// specified in the config.
func NewBackgroundCommitter(cfg *BackgroundCommitterConfig) (*BackgroundCommitter, error) {
	if cfg.Store == nil {
		return nil, missingInnerError("background committer")
	}
	flushPeriod := cfg.FlushPeriod
	switch {
	case flushPeriod == 0:
		flushPeriod = DefaultFlushPeriod
	case flushPeriod < 0:
		str := fmt.Sprintf("flush period must be positive (got %v)",
			flushPeriod)
		return nil, contextError(ErrInvalidConfig, str)
	}
	maxPending := cfg.MaxPendingEntries
	if maxPending == 0 {
		maxPending = DefaultMaxPendingEntries
	}

	committing, err := NewCommitBuffer(&CommitBufferConfig{
		Inner:              cfg.Store,
		DisableReadThrough: true,
	})
	if err != nil {
		return nil, err
	}
	front, err := NewCommitBuffer(&CommitBufferConfig{Inner: committing})
	if err != nil {
		return nil, err
	}

	return &BackgroundCommitter{
		store:         cfg.Store,
		committing:    committing,
		front:         front,
		flushPeriod:   flushPeriod,
		maxPending:    maxPending,
		lastFlushTime: time.Now(),
		timeNow:       time.Now,
	}, nil
}

// Inner returns the store the committer drains to.
func (c *BackgroundCommitter) Inner() CoinView {
	return c.store
}

// FetchCoins returns the entries for the provided ids, including changes that
// have not reached the store yet.
//
// This function is safe for concurrent access.
func (c *BackgroundCommitter) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	return c.front.FetchCoins(ids)
}

// SaveChanges records the provided changes in memory and starts a
// background flush when one is due.
//
// This function is safe for concurrent access.
func (c *BackgroundCommitter) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if err := c.front.SaveChanges(tip, ids, entries); err != nil {
		return err
	}
	if c.shouldFlush() {
		return c.startFlush()
	}
	return nil
}

// drainInFlight returns whether a drain is still running.
//
// This function MUST be called with the mutex held.
func (c *BackgroundCommitter) drainInFlight() bool {
	if c.flushDone == nil {
		return false
	}
	select {
	case <-c.flushDone:
		c.flushDone = nil
		return false
	default:
		return true
	}
}

// shouldFlush returns whether or not a flush should be started.
//
// A flush is started when no drain is in flight and either the flush period
// has elapsed or the front buffer holds enough uncommitted entries.
//
// This function MUST be called with the mutex held.
func (c *BackgroundCommitter) shouldFlush() bool {
	if c.drainInFlight() {
		return false
	}
	if c.maxPending > 0 && c.front.DirtyLen() >= c.maxPending {
		return true
	}
	return c.timeNow().Sub(c.lastFlushTime) >= c.flushPeriod
}

// startFlush moves the front buffer into the committing buffer and launches
// a drain of the committing buffer into the store.  Entries held by the
// committing buffer from a previous successful drain are dropped first, while
// those of a failed drain are kept so they are retried.
//
// This function MUST be called with the mutex held and no drain in flight.
func (c *BackgroundCommitter) startFlush() error {
	if !c.committing.Pending() {
		c.committing.Clear()
	}
	numEntries := c.front.DirtyLen()
	if err := c.front.Commit(); err != nil {
		return err
	}
	c.front.Clear()
	c.lastFlushTime = c.timeNow()

	if !c.committing.Pending() {
		return nil
	}

	log.Debugf("Coin view flush starting (%d new entries, %d committing, "+
		"tip %s)", numEntries, c.committing.DirtyLen(),
		tipString(c.committing.Tip()))
	done := make(chan struct{})
	c.flushDone = done
	go c.drain(done)
	return nil
}

// drain commits the committing buffer to the store and records the outcome.
// It must be run as a goroutine.
func (c *BackgroundCommitter) drain(done chan struct{}) {
	start := c.timeNow()
	err := c.committing.Commit()
	duration := c.timeNow().Sub(start)

	c.mtx.Lock()
	c.drainErr = err
	c.stats.Drains++
	c.stats.LastDuration = duration
	if err != nil {
		c.stats.Failures++
		log.Warnf("Coin view flush failed, it will be retried with the next "+
			"flush: %v", err)
	} else {
		c.stats.LastFlush = c.timeNow()
		log.Debugf("Coin view flush completed in %v (store tip %s)",
			duration, tipString(c.store.Tip()))
	}
	c.mtx.Unlock()
	close(done)
}

// Flush waits for any drain in flight, then drains everything saved so far to
// the store and waits for that drain to finish.  It returns the error of the
// final drain.
//
// This function is safe for concurrent access.
func (c *BackgroundCommitter) Flush() error {
	c.mtx.Lock()
	for c.flushDone != nil {
		done := c.flushDone
		c.mtx.Unlock()
		<-done
		c.mtx.Lock()
		if c.flushDone == done {
			c.flushDone = nil
		}
	}

	if err := c.startFlush(); err != nil {
		c.mtx.Unlock()
		return err
	}
	done := c.flushDone
	c.mtx.Unlock()
	if done == nil {
		return nil
	}

	<-done
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.flushDone == done {
		c.flushDone = nil
	}
	return c.drainErr
}

// Tip returns the tip of the most recent save.
func (c *BackgroundCommitter) Tip() *ChainPosition {
	return c.front.Tip()
}

// CommittingTip returns the tip of the changes most recently handed to a
// drain.
func (c *BackgroundCommitter) CommittingTip() *ChainPosition {
	return c.committing.Tip()
}

// StoreTip returns the tip of the store.
func (c *BackgroundCommitter) StoreTip() *ChainPosition {
	return c.store.Tip()
}

// PendingEntries returns the number of saved entries that have not been
// handed to a drain yet.
func (c *BackgroundCommitter) PendingEntries() int {
	return c.front.DirtyLen()
}

// FlushStats returns statistics about the drains performed so far.
func (c *BackgroundCommitter) FlushStats() FlushStats {
	c.mtx.Lock()
	stats := c.stats
	c.mtx.Unlock()
	return stats
}
