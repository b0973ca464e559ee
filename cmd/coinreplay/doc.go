// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Coinreplay drives a synthetic chain through a coin view pipeline backed by a
leveldb coin database.

Every block holds a coinbase followed by transactions that spend random
unspent outputs created by earlier blocks.  The coins spent by the next block
are prefetched while the current block is connected.  Saved changes are
flushed to the database in the background and once more on shutdown.  A run
resumes on top of the tip held by an existing database.

Usage:

	coinreplay [OPTIONS]

Application Options:

	-A, --appdata=       Path to application home directory
	-C, --configfile=    Path to configuration file
	-b, --datadir=       Directory to store the coin database
	    --logdir=        Directory to log output
	    --nofilelogging  Disable file logging
	-d, --debuglevel=    Logging level for all subsystems {trace, debug,
	                     info, warn, error, critical} -- You may also specify
	                     <subsystem>=<level>,<subsystem2>=<level>,... to set
	                     the log level for individual subsystems -- Use show
	                     to list available subsystems (info)
	-V, --version        Display version information and exit
	    --blocks=        Number of synthetic blocks to connect (1000)
	    --txperblock=    Number of transactions that spend existing coins in
	                     each block (200)
	    --maxinputs=     Maximum number of coins each transaction spends (3)
	    --cachemaxitems= Maximum number of transactions held by the
	                     read/write cache (100000)
	    --eviction=      Cache eviction strategy {random, lru} (random)
	    --flushperiod=   Maximum time saved changes wait before they are
	                     flushed to the database (1m)
	    --maxpending=    Number of saved changes that triggers a flush
	                     (50000)
	    --batchsize=     Maximum number of ids fetched from the database in a
	                     single batch (1000)
	    --memlimit=      Soft memory limit in MiB (0 derives it from
	                     cachemaxitems)
	    --metricslisten= Serve prometheus metrics on the provided
	                     interface/port
	    --stats          Print coin set statistics once the replay finishes

Help Options:

	-h, --help           Show this help message
*/
package main
