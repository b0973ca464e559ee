// Copyright (c) 2021-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// TestLevelDBStore ensures the leveldb store behaves as a base store.
func TestLevelDBStore(t *testing.T) {
	t.Parallel()

	testBaseStore(t, createTestLevelDBStore(t))
}

// TestLevelDBStoreReopen ensures the entries and the tip survive closing and
// reopening the database.
func TestLevelDBStoreReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "coindb")
	store, err := OpenLevelDBStore(dbPath)
	if err != nil {
		t.Fatalf("unable to open store: %v", err)
	}
	ids := testHashes(10, 2)
	entries := []*CoinEntry{testEntry(2, 42), spentEntry(t, testEntry(3, 41), 1)}
	mustSave(t, store, testTip(42), ids, entries)
	if err := store.Close(); err != nil {
		t.Fatalf("unable to close store: %v", err)
	}

	// Access after close must report the database is not open.
	_, err = store.FetchCoins(ids)
	if !errors.Is(err, ErrBackendNotOpen) {
		t.Fatalf("unexpected error fetching from closed store -- got %v, "+
			"want %v", err, ErrBackendNotOpen)
	}

	store, err = OpenLevelDBStore(dbPath)
	if err != nil {
		t.Fatalf("unable to reopen store: %v", err)
	}
	defer store.Close()

	if tip := store.Tip(); tip == nil || *tip != testTip(42) {
		t.Fatalf("unexpected tip after reopen -- got %v, want %v", tip,
			testTip(42))
	}
	assertSameCoins(t, mustFetch(t, store, ids...), entries)
}

// TestLevelDBStoreCorruption ensures malformed data in the database is
// reported as corruption.
func TestLevelDBStoreCorruption(t *testing.T) {
	t.Parallel()

	store := createTestLevelDBStore(t)
	id := testHash(7)
	if err := store.db.Put(coinKey(&id), []byte{0x01}, nil); err != nil {
		t.Fatalf("unable to write corrupt entry: %v", err)
	}
	_, err := store.FetchCoins([]chainhash.Hash{id})
	if !errors.Is(err, ErrBackendCorruption) {
		t.Fatalf("unexpected error -- got %v, want %v", err,
			ErrBackendCorruption)
	}
	if _, err := store.Stats(); !errors.Is(err, ErrBackendCorruption) {
		t.Fatalf("unexpected stats error -- got %v, want %v", err,
			ErrBackendCorruption)
	}

	// A corrupt state makes the store unusable.
	if err := store.db.Put(coinSetStateKey, []byte{0x00}, nil); err != nil {
		t.Fatalf("unable to write corrupt state: %v", err)
	}
	if _, err := NewLevelDBStore(store.db); !errors.Is(err, ErrBackendCorruption) {
		t.Fatalf("unexpected error loading corrupt state -- got %v, want %v",
			err, ErrBackendCorruption)
	}
}

// TestLevelDBStoreStats ensures the statistics reflect the stored unspent
// outputs and that the serialized hash commits to the contents.
func TestLevelDBStoreStats(t *testing.T) {
	t.Parallel()

	store := createTestLevelDBStore(t)
	ids := testHashes(0, 2)
	entries := []*CoinEntry{testEntry(2, 1), spentEntry(t, testEntry(3, 1), 0)}
	mustSave(t, store, testTip(1), ids, entries)

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	wantSize := int64(len(serializeCoinEntry(entries[0])) +
		len(serializeCoinEntry(entries[1])))
	if stats.Transactions != 2 || stats.Outputs != 4 ||
		stats.Total != 8e8 || stats.Size != wantSize {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.SerializedHash == (chainhash.Hash{}) {
		t.Fatal("serialized hash not set")
	}

	// Spending an output changes the hash and the totals.
	mustSave(t, store, testTip(2), ids[:1],
		[]*CoinEntry{spentEntry(t, entries[0], 1)})
	stats2, err := store.Stats()
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if stats2.Outputs != 3 || stats2.Total != 6e8 {
		t.Fatalf("unexpected stats after spend %+v", stats2)
	}
	if stats2.SerializedHash == stats.SerializedHash {
		t.Fatal("serialized hash did not change")
	}
}

// TestConvertLdbErr ensures leveldb-specific errors are converted to the
// expected error kinds.
func TestConvertLdbErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{{
		name: "closed",
		err:  leveldb.ErrClosed,
		want: ErrBackendNotOpen,
	}, {
		name: "snapshot released",
		err:  leveldb.ErrSnapshotReleased,
		want: ErrBackendTxClosed,
	}, {
		name: "iterator released",
		err:  leveldb.ErrIterReleased,
		want: ErrBackendTxClosed,
	}, {
		name: "corrupted",
		err:  &ldberrors.ErrCorrupted{Err: errors.New("bad block")},
		want: ErrBackendCorruption,
	}, {
		name: "other",
		err:  errors.New("disk full"),
		want: ErrBackend,
	}}

	for _, test := range tests {
		err := convertLdbErr(test.err, "op failed")
		if !errors.Is(err, test.want) {
			t.Errorf("%s: unexpected kind -- got %v, want %v", test.name,
				err.Err, test.want)
			continue
		}
		if err.RawErr != test.err {
			t.Errorf("%s: raw error not retained", test.name)
		}
	}
}
