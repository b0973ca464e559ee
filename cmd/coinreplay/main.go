// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/decred/coinview"
	"github.com/decred/coinview/internal/limits"
	"github.com/decred/coinview/internal/progresslog"
	"github.com/decred/coinview/internal/version"
	"github.com/decred/dcrd/dcrutil/v4"
)

// logStats logs statistics about the coin set held by the store.
func logStats(store *coinview.LevelDBStore) error {
	stats, err := store.Stats()
	if err != nil {
		return err
	}
	rplyLog.Infof("Coin set at %s: %d transactions, %d unspent outputs, "+
		"total %v, serialized size %d bytes, hash %v",
		store.Tip(), stats.Transactions, stats.Outputs,
		dcrutil.Amount(stats.Total), stats.Size, stats.SerializedHash)
	return nil
}

// coinreplayMain is the real main function for coinreplay.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func coinreplayMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	cfg, _, err := loadConfig(appName, os.Args[1:])
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from the
	// metrics server failing.
	ctx := shutdownListener()
	defer rplyLog.Info("Shutdown complete")

	rplyLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	rplyLog.Infof("Home dir: %s", cfg.HomeDir)
	if cfg.NoFileLog {
		rplyLog.Info("File logging disabled")
	}

	// Bursty allocations from connecting blocks are bounded by a soft memory
	// limit sized for the cache.
	softMemLimit := limits.SoftMemoryLimit(cfg.MemLimit, cfg.CacheMaxItems)
	limits.SetMemoryLimit(softMemLimit)
	rplyLog.Infof("Soft memory limit: %0.2f GiB",
		float64(softMemLimit)/(1<<30))

	rplyLog.Infof("Loading coin database from '%s'", cfg.dbPath)
	store, err := coinview.OpenLevelDBStore(cfg.dbPath)
	if err != nil {
		rplyLog.Errorf("%v", err)
		return err
	}
	defer func() {
		rplyLog.Info("Closing coin database...")
		if err := store.Close(); err != nil {
			rplyLog.Errorf("%v", err)
		}
	}()
	if tip := store.Tip(); tip != nil {
		rplyLog.Infof("Resuming on top of %v", tip)
	}

	pipeline, err := coinview.NewPipeline(cfg.pipelineConfig(store))
	if err != nil {
		rplyLog.Errorf("Unable to create coin view pipeline: %v", err)
		return err
	}

	if cfg.MetricsListen != "" {
		server, err := startMetricsServer(cfg.MetricsListen, pipeline)
		if err != nil {
			rplyLog.Errorf("Unable to start metrics server: %v", err)
			return err
		}
		defer server.Close()
	}

	r := &replayer{
		view:      pipeline,
		gen:       newChainGenerator(store.Tip(), cfg.TxPerBlock, cfg.MaxInputs),
		numBlocks: cfg.Blocks,
		progress:  progresslog.New("Connected", rplyLog),
		hitRatio:  pipeline.Cache().HitRatio,
	}
	connected, runErr := r.run(ctx)
	if runErr != nil {
		rplyLog.Errorf("%v", runErr)
	}

	// Everything saved must reach the database before it is closed,
	// including when the replay failed part way through.
	rplyLog.Infof("Flushing %d pending coin changes...",
		pipeline.Committer().PendingEntries())
	if err := pipeline.Close(); err != nil {
		rplyLog.Errorf("Unable to flush coins: %v", err)
		return err
	}
	rplyLog.Infof("Connected %d blocks (cache hit ratio %0.2f%%)", connected,
		pipeline.Cache().HitRatio())
	if runErr != nil {
		return runErr
	}

	if cfg.Stats {
		if err := logStats(store); err != nil {
			rplyLog.Errorf("Unable to compute coin set statistics: %v", err)
			return err
		}
	}
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := coinreplayMain(); err != nil {
		os.Exit(1)
	}
}
