// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"
	"runtime"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchMaxSize is the default maximum number of ids a
	// ParallelFetcher requests from its inner view in a single call.
	DefaultBatchMaxSize = 100
)

// TaskRunner runs a set of independent tasks and returns once all of them
// have finished.  It returns the first error encountered, if any.
type TaskRunner interface {
	Run(tasks []func() error) error
}

// errgroupRunner is a TaskRunner that runs tasks on goroutines managed by an
// errgroup with a bounded number of workers.
type errgroupRunner struct {
	limit int
}

// NewErrgroupRunner returns a TaskRunner that runs at most limit tasks at
// once.  A limit that is not positive runs every task at once.
func NewErrgroupRunner(limit int) TaskRunner {
	return &errgroupRunner{limit: limit}
}

// Run runs the provided tasks and waits for all of them to finish.
func (r *errgroupRunner) Run(tasks []func() error) error {
	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for _, task := range tasks {
		g.Go(task)
	}
	return g.Wait()
}

// ParallelFetcherConfig houses the parameters used to create a
// ParallelFetcher.
type ParallelFetcherConfig struct {
	// Inner is the view batches are fetched from and writes are forwarded
	// to.
	Inner CoinView

	// BatchMaxSize is the maximum number of ids per call to Inner.
	// DefaultBatchMaxSize is used when it is zero.
	BatchMaxSize int

	// Runner runs the batches.  An errgroup limited to the number of CPUs is
	// used when it is nil.
	Runner TaskRunner
}

// ParallelFetcher splits large fetches into batches that are requested from
// the inner view concurrently.
type ParallelFetcher struct {
	inner        CoinView
	batchMaxSize int
	runner       TaskRunner
}

// Ensure ParallelFetcher implements the BackedView interface.
var _ BackedView = (*ParallelFetcher)(nil)

// NewParallelFetcher returns a parallel fetcher over the view specified in
// the config.
func NewParallelFetcher(cfg *ParallelFetcherConfig) (*ParallelFetcher, error) {
	if cfg.Inner == nil {
		return nil, missingInnerError("parallel fetcher")
	}
	batchMaxSize := cfg.BatchMaxSize
	switch {
	case batchMaxSize == 0:
		batchMaxSize = DefaultBatchMaxSize
	case batchMaxSize < 0:
		str := fmt.Sprintf("batch max size must be positive (got %d)",
			batchMaxSize)
		return nil, contextError(ErrInvalidConfig, str)
	}
	runner := cfg.Runner
	if runner == nil {
		runner = NewErrgroupRunner(runtime.NumCPU())
	}
	return &ParallelFetcher{
		inner:        cfg.Inner,
		batchMaxSize: batchMaxSize,
		runner:       runner,
	}, nil
}

// Inner returns the view the fetcher wraps.
func (f *ParallelFetcher) Inner() CoinView {
	return f.inner
}

// FetchCoins returns the entries for the provided ids.  Requests larger than
// the maximum batch size are split into contiguous batches which are fetched
// concurrently and reassembled in the original order.  The whole fetch fails
// if any batch fails.
//
// This function is safe for concurrent access.
func (f *ParallelFetcher) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	if len(ids) <= f.batchMaxSize {
		return f.inner.FetchCoins(ids)
	}

	results := make([]*CoinEntry, len(ids))
	tasks := make([]func() error, 0, (len(ids)+f.batchMaxSize-1)/f.batchMaxSize)
	for start := 0; start < len(ids); start += f.batchMaxSize {
		end := start + f.batchMaxSize
		if end > len(ids) {
			end = len(ids)
		}
		start, batch := start, ids[start:end]
		tasks = append(tasks, func() error {
			entries, err := f.inner.FetchCoins(batch)
			if err != nil {
				return err
			}
			if len(entries) != len(batch) {
				return AssertError(fmt.Sprintf("inner view returned %d "+
					"entries for a batch of %d ids", len(entries),
					len(batch)))
			}
			copy(results[start:], entries)
			return nil
		})
	}
	if err := f.runner.Run(tasks); err != nil {
		return nil, err
	}
	return results, nil
}

// SaveChanges forwards the changes to the inner view.
func (f *ParallelFetcher) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	return f.inner.SaveChanges(tip, ids, entries)
}

// Tip returns the tip of the inner view.
func (f *ParallelFetcher) Tip() *ChainPosition {
	return f.inner.Tip()
}
