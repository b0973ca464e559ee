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
	"time"

	"github.com/decred/coinview"
	"github.com/decred/coinview/internal/version"
	"github.com/decred/coinview/sampleconfig"
	"github.com/decred/dcrd/dcrutil/v4"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "coinreplay.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "coinreplay.log"
	defaultDbDirname      = "coins"
	defaultBlocks         = 1000
	defaultTxPerBlock     = 200
	defaultMaxInputs      = 3
	defaultEviction       = coinview.EvictionRandom
	defaultFlushPeriod    = time.Minute
	defaultMaxPending     = 50000
	defaultBatchSize      = 1000
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("coinreplay", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for coinreplay.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	HomeDir     string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the coin database"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	NoFileLog   bool   `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	// Replay options.
	Blocks     uint32 `long:"blocks" description:"Number of synthetic blocks to connect"`
	TxPerBlock int    `long:"txperblock" description:"Number of transactions that spend existing coins in each block"`
	MaxInputs  int    `long:"maxinputs" description:"Maximum number of coins each transaction spends"`

	// Coin view pipeline options.
	CacheMaxItems int           `long:"cachemaxitems" description:"Maximum number of transactions held by the read/write cache"`
	Eviction      string        `long:"eviction" description:"Cache eviction strategy {random, lru}"`
	FlushPeriod   time.Duration `long:"flushperiod" description:"Maximum time saved changes wait before they are flushed to the database"`
	MaxPending    int           `long:"maxpending" description:"Number of saved changes that triggers a flush"`
	BatchSize     int           `long:"batchsize" description:"Maximum number of ids fetched from the database in a single batch"`

	// Process options.
	MemLimit      uint64 `long:"memlimit" description:"Soft memory limit in MiB (0 derives it from cachemaxitems)"`
	MetricsListen string `long:"metricslisten" description:"Serve prometheus metrics on the provided interface/port"`
	Stats         bool   `long:"stats" description:"Print coin set statistics once the replay finishes"`

	// dbPath is the path of the coin database derived from DataDir.
	dbPath string
}

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// cleanAndExpandPath expands environment variables and leading ~ in the passed
// path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser to
	// otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]
	var pathSeparators string
	if runtime.GOOS == "windows" {
		pathSeparators = string(os.PathSeparator) + "/"
	} else {
		pathSeparators = string(os.PathSeparator)
	}
	if path != "" && !strings.ContainsAny(path[:1], pathSeparators) {
		// ~otheruser is not supported.
		return filepath.Clean("~" + path)
	}
	homeDir := filepath.Dir(defaultHomeDir)
	if runtime.GOOS == "windows" {
		homeDir = os.Getenv("LOCALAPPDATA")
	} else if home, err := os.UserHomeDir(); err == nil {
		homeDir = home
	}
	return filepath.Join(homeDir, path)
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// createDefaultConfigFile writes the sample config to the provided path.
func createDefaultConfigFile(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.CoinReplay()), 0600)
}

// defaultConfig returns a config with every option set to its default.
func defaultConfig() config {
	return config{
		HomeDir:       defaultHomeDir,
		ConfigFile:    defaultConfigFile,
		DataDir:       defaultDataDir,
		LogDir:        defaultLogDir,
		DebugLevel:    defaultLogLevel,
		Blocks:        defaultBlocks,
		TxPerBlock:    defaultTxPerBlock,
		MaxInputs:     defaultMaxInputs,
		CacheMaxItems: coinview.DefaultCacheMaxItems,
		Eviction:      defaultEviction,
		FlushPeriod:   defaultFlushPeriod,
		MaxPending:    defaultMaxPending,
		BatchSize:     defaultBatchSize,
	}
}

// validate ensures the replay and pipeline options are in range.
func (cfg *config) validate() error {
	switch {
	case cfg.Blocks == 0:
		return errors.New("blocks must be positive")
	case cfg.TxPerBlock < 0:
		return fmt.Errorf("txperblock must not be negative (got %d)",
			cfg.TxPerBlock)
	case cfg.MaxInputs < 1:
		return fmt.Errorf("maxinputs must be positive (got %d)", cfg.MaxInputs)
	case cfg.CacheMaxItems < 1:
		return fmt.Errorf("cachemaxitems must be positive (got %d)",
			cfg.CacheMaxItems)
	case cfg.FlushPeriod <= 0:
		return fmt.Errorf("flushperiod must be positive (got %v)",
			cfg.FlushPeriod)
	case cfg.MaxPending < 1:
		return fmt.Errorf("maxpending must be positive (got %d)",
			cfg.MaxPending)
	case cfg.BatchSize < 1:
		return fmt.Errorf("batchsize must be positive (got %d)", cfg.BatchSize)
	}
	switch cfg.Eviction {
	case coinview.EvictionRandom, coinview.EvictionLRU:
	default:
		return fmt.Errorf("eviction must be one of %q or %q (got %q)",
			coinview.EvictionRandom, coinview.EvictionLRU, cfg.Eviction)
	}
	return nil
}

// pipelineConfig returns the pipeline parameters over the provided store.
func (cfg *config) pipelineConfig(store coinview.CoinView) *coinview.PipelineConfig {
	return &coinview.PipelineConfig{
		Store:             store,
		CacheMaxItems:     cfg.CacheMaxItems,
		Eviction:          cfg.Eviction,
		FlushPeriod:       cfg.FlushPeriod,
		MaxPendingEntries: cfg.MaxPending,
		BatchMaxSize:      cfg.BatchSize,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in coinreplay functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string, args []string) (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file, the version flag or the home directory was specified.  Any
	// errors aside from the help message error can be ignored here since
	// they will be caught by the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	usingDefaultConfig := preCfg.ConfigFile == defaultConfigFile

	// Update the home directory for coinreplay if specified.  Since the home
	// directory is updated, other variables need to be updated to reflect
	// the new changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
		if usingDefaultConfig {
			preCfg.ConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	if usingDefaultConfig && !fileExists(configFile) {
		if err := createDefaultConfigFile(configFile); err != nil {
			str := fmt.Sprintf("failed to create default config file: %v",
				err)
			return nil, nil, errSuppressUsage(str)
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			return nil, nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.dbPath = filepath.Join(cfg.DataDir, defaultDbDirname)
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		str := fmt.Sprintf("failed to create data directory: %v", err)
		return nil, nil, errSuppressUsage(str)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	if !cfg.NoFileLog {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		if err := initLogRotator(logFile); err != nil {
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
