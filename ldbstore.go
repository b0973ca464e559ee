// Copyright (c) 2021-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/decred/dcrd/blockchain/standalone/v2"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// -----------------------------------------------------------------------------
// coinKeySet represents a top level key set in the durable store.  All keys
// start with a serialized prefix consisting of the key set and version of that
// key set as follows:
//
//	<key set><version>
//
//	Key        Value    Size      Description
//	key set    uint8    1 byte    The key set identifier, as defined below
//	version    uint8    1 byte    The version of the key set
//
// -----------------------------------------------------------------------------
type coinKeySet uint8

// These constants define the available key sets.
const (
	coinKeySetState coinKeySet = iota + 1 // 1
	coinKeySetCoins                       // 2
)

// These variables define the serialized prefix for each key set and associated
// version.
var (
	// coinPrefixState is the prefix for all keys in the coin set state key
	// set.
	coinPrefixState = []byte{byte(coinKeySetState), 1}

	// coinPrefixCoins is the prefix for all keys in the coin set key set.
	coinPrefixCoins = []byte{byte(coinKeySetCoins), 1}

	// coinSetStateKey is the database key used to house the tip of the coin
	// set.
	coinSetStateKey = prefixedKey(coinPrefixState, []byte("tip"))
)

// prefixedKey returns a new byte slice that consists of the provided prefix
// appended with the provided key.
func prefixedKey(prefix []byte, key []byte) []byte {
	lenPrefix := len(prefix)
	prefixedKey := make([]byte, lenPrefix+len(key))
	_ = copy(prefixedKey, prefix)
	_ = copy(prefixedKey[lenPrefix:], key)
	return prefixedKey
}

// coinKey returns the database key for the provided transaction id.
func coinKey(id *chainhash.Hash) []byte {
	return prefixedKey(coinPrefixCoins, id[:])
}

// CoinStats represents statistics on the stored coin set.
type CoinStats struct {
	Transactions   int64
	Outputs        int64
	Size           int64
	Total          int64
	SerializedHash chainhash.Hash
}

// LevelDBStore is a durable base store backed by a leveldb database.
//
// Every SaveChanges call is applied in a single leveldb transaction together
// with the new tip so the stored coin set and its tip are always in sync.
type LevelDBStore struct {
	// db is the database that contains the coin set.  It is set when the
	// instance is created and is not changed afterward.
	db *leveldb.DB

	// writeMtx serializes writers while tipMtx protects the cached tip.
	writeMtx sync.Mutex
	tipMtx   sync.RWMutex
	tip      *ChainPosition
}

// Ensure LevelDBStore implements the CoinView interface.
var _ CoinView = (*LevelDBStore)(nil)

// convertLdbErr converts the passed leveldb error into a context error with an
// equivalent error kind and the passed description.  It also sets the passed
// error as the underlying error and adds its error string to the description.
func convertLdbErr(ldbErr error, desc string) ContextError {
	// Use the general backend error kind by default.  The code below will
	// update this with the converted error if it's recognized.
	var kind = ErrBackend

	switch {
	// Database corruption errors.
	case ldberrors.IsCorrupted(ldbErr):
		kind = ErrBackendCorruption

	// Database open/create errors.
	case errors.Is(ldbErr, leveldb.ErrClosed):
		kind = ErrBackendNotOpen

	// Transaction errors.
	case errors.Is(ldbErr, leveldb.ErrSnapshotReleased):
		kind = ErrBackendTxClosed
	case errors.Is(ldbErr, leveldb.ErrIterReleased):
		kind = ErrBackendTxClosed
	}

	// Include the original error in description.
	desc = fmt.Sprintf("%s: %v", desc, ldbErr)

	err := contextError(kind, desc)
	err.RawErr = ldbErr

	return err
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

// OpenLevelDBStore opens (or creates when needed) the coin database at the
// provided path and returns a store that uses it.  Closing the store closes
// the database.
func OpenLevelDBStore(dbPath string) (*LevelDBStore, error) {
	dbExists := fileExists(dbPath)
	if !dbExists {
		// The error can be ignored here since the call to leveldb.OpenFile will
		// fail if the directory couldn't be created.
		_ = os.MkdirAll(dbPath, 0700)
	}

	log.Infof("Loading coin database from '%s'", dbPath)
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open coin database")
	}

	store, err := NewLevelDBStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("Coin database loaded with tip %s", tipString(store.Tip()))
	return store, nil
}

// NewLevelDBStore returns a store that uses the provided leveldb database for
// its underlying storage.  The tip is loaded from the database.
func NewLevelDBStore(db *leveldb.DB) (*LevelDBStore, error) {
	s := &LevelDBStore{db: db}
	serialized, err := db.Get(coinSetStateKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, convertLdbErr(err, "failed to load coin set state")
	}

	tip, err := deserializeCoinSetState(serialized)
	if err != nil {
		str := fmt.Sprintf("corrupt coin set state: %v", err)
		return nil, contextError(ErrBackendCorruption, str)
	}
	s.tip = tip
	return s, nil
}

// FetchCoins loads the entries for the provided ids.  All ids are read from a
// single consistent snapshot of the database.
//
// This function is safe for concurrent access.
func (s *LevelDBStore) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, convertLdbErr(err, "failed to acquire database snapshot")
	}
	defer snap.Release()

	results := make([]*CoinEntry, len(ids))
	for i := range ids {
		serialized, err := snap.Get(coinKey(&ids[i]), nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				continue
			}
			str := fmt.Sprintf("failed to fetch coins for %v", ids[i])
			return nil, convertLdbErr(err, str)
		}

		// A non-nil zero-length entry means there is an entry in the database
		// for a fully spent transaction which should never be the case.
		if len(serialized) == 0 {
			return nil, AssertError(fmt.Sprintf("database contains entry "+
				"for pruned tx %v", ids[i]))
		}

		entry, err := deserializeCoinEntry(serialized)
		if err != nil {
			// Ensure any deserialization errors are returned as backend
			// corruption errors.
			if isDeserializeErr(err) {
				str := fmt.Sprintf("corrupt coin entry for %v: %v", ids[i], err)
				return nil, contextError(ErrBackendCorruption, str)
			}
			return nil, err
		}
		results[i] = entry
	}

	return results, nil
}

// SaveChanges atomically writes the provided entries along with the new tip.
// Nil and pruned entries are removed from the database.
//
// This function is safe for concurrent access.
func (s *LevelDBStore) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	if err := checkChanges(ids, entries); err != nil {
		return err
	}

	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()

	if err := checkTipAdvance(s.Tip(), &tip); err != nil {
		return err
	}

	// Note: A leveldb.Transaction is used rather than a leveldb.Batch because
	// it uses significantly less memory when atomically updating a large
	// amount of data, which is the common case for drains.
	ldbTx, err := s.db.OpenTransaction()
	if err != nil {
		return convertLdbErr(err, "failed to open leveldb transaction")
	}
	for i, entry := range entries {
		key := coinKey(&ids[i])
		if entry == nil || entry.IsPruned() {
			err = ldbTx.Delete(key, nil)
		} else {
			err = ldbTx.Put(key, serializeCoinEntry(entry), nil)
		}
		if err != nil {
			ldbTx.Discard()
			str := fmt.Sprintf("failed to write coins for %v", ids[i])
			return convertLdbErr(err, str)
		}
	}

	// The tip is always updated in the same transaction as the coin set
	// itself so that they are always in sync.
	err = ldbTx.Put(coinSetStateKey, serializeCoinSetState(&tip), nil)
	if err != nil {
		ldbTx.Discard()
		return convertLdbErr(err, "failed to write coin set state")
	}
	if err := ldbTx.Commit(); err != nil {
		ldbTx.Discard()
		return convertLdbErr(err, "failed to commit leveldb transaction")
	}

	s.tipMtx.Lock()
	s.tip = clonePosition(&tip)
	s.tipMtx.Unlock()
	return nil
}

// Tip returns the tip of the stored coin set.
//
// This function is safe for concurrent access.
func (s *LevelDBStore) Tip() *ChainPosition {
	s.tipMtx.RLock()
	tip := clonePosition(s.tip)
	s.tipMtx.RUnlock()
	return tip
}

// Stats returns statistics on the stored coin set.
func (s *LevelDBStore) Stats() (*CoinStats, error) {
	var stats CoinStats
	leaves := make([]chainhash.Hash, 0)
	iter := s.db.NewIterator(util.BytesPrefix(coinPrefixCoins), nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		if len(key) != len(coinPrefixCoins)+chainhash.HashSize {
			str := fmt.Sprintf("corrupt coin key %x", key)
			return nil, contextError(ErrBackendCorruption, str)
		}

		serialized := iter.Value()
		if len(serialized) == 0 {
			return nil, AssertError(fmt.Sprintf("database contains entry "+
				"for pruned tx %x", key[len(coinPrefixCoins):]))
		}
		entry, err := deserializeCoinEntry(serialized)
		if err != nil {
			if isDeserializeErr(err) {
				str := fmt.Sprintf("corrupt coin entry for key %x: %v", key,
					err)
				return nil, contextError(ErrBackendCorruption, str)
			}
			return nil, err
		}

		stats.Transactions++
		stats.Size += int64(len(serialized))
		for i := range entry.outputs {
			if entry.spent.Get(i) {
				continue
			}
			stats.Outputs++
			stats.Total += entry.outputs[i].Value
		}
		leaves = append(leaves, chainhash.HashH(serialized))
	}
	if err := iter.Error(); err != nil {
		return nil, convertLdbErr(err, "failed to fetch stats")
	}

	stats.SerializedHash = standalone.CalcMerkleRootInPlace(leaves)
	return &stats, nil
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	if err := s.db.Close(); err != nil {
		return convertLdbErr(err, "failed to close coin database")
	}
	return nil
}
