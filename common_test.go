// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/slog"
)

// testLog adapts a test to an io.Writer for use as a log backend.
type testLog struct {
	*testing.T
}

func (t *testLog) Write(b []byte) (int, error) {
	t.Logf("%s", b)
	return len(b), nil
}

// useTestLogger sets the package-level logger to a backend that writes
// trace-level logs to the test log.  A function is returned to set the logger
// back to Disabled when finished.
//
// Due to the use of a global logger variable, tests that call this must not
// be run in parallel.
func useTestLogger(t *testing.T) func() {
	backend := slog.NewBackend(&testLog{T: t})
	l := backend.Logger("TEST")
	l.SetLevel(slog.LevelTrace)
	UseLogger(l)
	return func() {
		UseLogger(slog.Disabled)
	}
}

// testHash returns a deterministic transaction id for the provided number.
func testHash(n int) chainhash.Hash {
	return chainhash.HashH([]byte{byte(n), byte(n >> 8), byte(n >> 16), 0x5a})
}

// testHashes returns count deterministic transaction ids starting at offset.
func testHashes(offset, count int) []chainhash.Hash {
	hashes := make([]chainhash.Hash, count)
	for i := range hashes {
		hashes[i] = testHash(offset + i)
	}
	return hashes
}

// testEntry returns an entry with the provided number of unspent outputs.
func testEntry(numOutputs int, height uint32) *CoinEntry {
	outputs := make([]TxOut, numOutputs)
	for i := range outputs {
		outputs[i] = TxOut{
			Value:    int64(i+1) * 1e8,
			Version:  0,
			PkScript: []byte{0x76, 0xa9, 0x14, byte(i), byte(height)},
		}
	}
	return NewCoinEntry(outputs, height, false)
}

// spentEntry returns a copy of the entry with the provided outputs spent.
func spentEntry(t *testing.T, entry *CoinEntry, indexes ...uint32) *CoinEntry {
	t.Helper()

	spent := entry.Clone()
	for _, idx := range indexes {
		if err := spent.Spend(idx); err != nil {
			t.Fatalf("unable to spend output %d: %v", idx, err)
		}
	}
	return spent
}

// testTip returns a chain position at the provided height with hashes derived
// from the height.
func testTip(height uint32) ChainPosition {
	return ChainPosition{
		Hash:     chainhash.HashH([]byte{byte(height), byte(height >> 8), 0xb1}),
		Height:   height,
		PrevHash: chainhash.HashH([]byte{byte(height - 1), byte((height - 1) >> 8), 0xb1}),
	}
}

// mustSave saves the changes into the view and fails the test on error.
func mustSave(t *testing.T, view CoinView, tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) {
	t.Helper()

	if err := view.SaveChanges(tip, ids, entries); err != nil {
		t.Fatalf("unexpected error saving changes at %v: %v", tip, err)
	}
}

// mustFetch fetches the ids from the view and fails the test on error.
func mustFetch(t *testing.T, view CoinView, ids ...chainhash.Hash) []*CoinEntry {
	t.Helper()

	entries, err := view.FetchCoins(ids)
	if err != nil {
		t.Fatalf("unexpected error fetching coins: %v", err)
	}
	if len(entries) != len(ids) {
		t.Fatalf("unexpected number of entries -- got %d, want %d",
			len(entries), len(ids))
	}
	return entries
}

// isMissing returns whether the entry is nil or pruned.
func isMissing(entry *CoinEntry) bool {
	return entry == nil || entry.IsPruned()
}

// errInjected is the error returned by a countingView configured to fail.
var errInjected = errors.New("injected failure")

// countingView is a CoinView stub backed by a MemStore that counts the calls
// and ids it receives and can be configured to fail.
type countingView struct {
	store *MemStore

	mtx          sync.Mutex
	fetchCalls   int
	fetchedIDs   int
	fetchBatches []int
	saveCalls    int
	failFetch    bool
	failSaves    int
	saveStarted  chan struct{}
	saveRelease  chan struct{}

	// fetchLoaded and fetchRelease block fetches after the store was read
	// when set.
	fetchLoaded  chan struct{}
	fetchRelease chan struct{}
}

func newCountingView() *countingView {
	return &countingView{store: NewMemStore()}
}

func (v *countingView) FetchCoins(ids []chainhash.Hash) ([]*CoinEntry, error) {
	v.mtx.Lock()
	v.fetchCalls++
	v.fetchedIDs += len(ids)
	v.fetchBatches = append(v.fetchBatches, len(ids))
	fail := v.failFetch
	loaded, release := v.fetchLoaded, v.fetchRelease
	v.mtx.Unlock()
	if fail {
		return nil, errInjected
	}
	entries, err := v.store.FetchCoins(ids)
	if loaded != nil {
		loaded <- struct{}{}
		<-release
	}
	return entries, err
}

func (v *countingView) SaveChanges(tip ChainPosition, ids []chainhash.Hash, entries []*CoinEntry) error {
	v.mtx.Lock()
	v.saveCalls++
	fail := v.failSaves > 0
	if fail {
		v.failSaves--
	}
	started, release := v.saveStarted, v.saveRelease
	v.mtx.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if fail {
		return errInjected
	}
	return v.store.SaveChanges(tip, ids, entries)
}

func (v *countingView) Tip() *ChainPosition {
	return v.store.Tip()
}

func (v *countingView) counts() (fetchCalls, fetchedIDs, saveCalls int) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.fetchCalls, v.fetchedIDs, v.saveCalls
}

// createTestLevelDBStore opens a store in a temporary directory that is
// removed when the test finishes.
func createTestLevelDBStore(t *testing.T) *LevelDBStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "coindb")
	store, err := OpenLevelDBStore(dbPath)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// sameCoins reports whether the entries hold the same observable state.
// Spent outputs are not compared since stores do not retain them.
func sameCoins(a, b *CoinEntry) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.IsCoinBase() != b.IsCoinBase() || a.BlockHeight() != b.BlockHeight() ||
		a.NumOutputs() != b.NumOutputs() {
		return false
	}
	for i := 0; i < a.NumOutputs(); i++ {
		if !reflect.DeepEqual(a.Output(uint32(i)), b.Output(uint32(i))) {
			return false
		}
	}
	return true
}

// assertSameCoins fails the test when the entries do not hold the same
// observable state.
func assertSameCoins(t *testing.T, got, want []*CoinEntry) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("mismatched number of entries -- got %d, want %d", len(got),
			len(want))
	}
	for i := range got {
		if !sameCoins(got[i], want[i]) {
			t.Fatalf("mismatched entry %d -- got %v, want %v", i,
				spew.Sdump(got[i]), spew.Sdump(want[i]))
		}
	}
}
