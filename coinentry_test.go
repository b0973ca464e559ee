// Copyright (c) 2021-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// TestCoinEntrySpend ensures spending outputs updates the entry state and
// rejects invalid spends.
func TestCoinEntrySpend(t *testing.T) {
	t.Parallel()

	entry := testEntry(3, 10)
	if entry.IsPruned() || entry.UnspentCount() != 3 {
		t.Fatalf("new entry unexpectedly pruned: %v", spew.Sdump(entry))
	}

	tests := []struct {
		name      string
		index     uint32
		wantErr   error
		unspent   int
		wantPrune bool
	}{{
		name:    "spend output 1",
		index:   1,
		unspent: 2,
	}, {
		name:    "spend output 1 again",
		index:   1,
		wantErr: ErrCoinAlreadySpent,
		unspent: 2,
	}, {
		name:    "spend out of range output",
		index:   3,
		wantErr: ErrMissingCoin,
		unspent: 2,
	}, {
		name:    "spend output 0",
		index:   0,
		unspent: 1,
	}, {
		name:      "spend output 2",
		index:     2,
		unspent:   0,
		wantPrune: true,
	}}

	for _, test := range tests {
		err := entry.Spend(test.index)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("%s: mismatched err -- got %v, want %v", test.name, err,
				test.wantErr)
		}
		if got := entry.UnspentCount(); got != test.unspent {
			t.Fatalf("%s: unexpected unspent count -- got %d, want %d",
				test.name, got, test.unspent)
		}
		if got := entry.IsPruned(); got != test.wantPrune {
			t.Fatalf("%s: unexpected pruned state -- got %v, want %v",
				test.name, got, test.wantPrune)
		}
		if !entry.IsSpent(test.index) {
			t.Fatalf("%s: output %d not reported spent", test.name,
				test.index)
		}
	}

	if out := entry.Output(0); out != nil {
		t.Fatalf("spent output returned: %v", spew.Sdump(out))
	}
	if empty := NewCoinEntry(nil, 1, false); !empty.IsPruned() {
		t.Fatal("entry without outputs is not pruned")
	}
}

// TestCoinEntryMerge ensures merging combines spent outputs conservatively,
// is idempotent and adopts output slots only known to the other side.
func TestCoinEntryMerge(t *testing.T) {
	t.Parallel()

	base := testEntry(4, 7)
	tests := []struct {
		name      string
		entry     *CoinEntry
		other     *CoinEntry
		wantSpent []bool
		wantNum   int
	}{{
		name:      "merge with itself",
		entry:     spentEntry(t, base, 1),
		other:     spentEntry(t, base, 1),
		wantSpent: []bool{false, true, false, false},
		wantNum:   4,
	}, {
		name:      "merge with superset",
		entry:     spentEntry(t, base, 1),
		other:     spentEntry(t, base, 1, 3),
		wantSpent: []bool{false, true, false, true},
		wantNum:   4,
	}, {
		name:      "merge with subset keeps spends",
		entry:     spentEntry(t, base, 0, 2),
		other:     spentEntry(t, base, 2),
		wantSpent: []bool{true, false, true, false},
		wantNum:   4,
	}, {
		name:      "merge disjoint spends",
		entry:     spentEntry(t, base, 0),
		other:     spentEntry(t, base, 3),
		wantSpent: []bool{true, false, false, true},
		wantNum:   4,
	}, {
		name:      "merge with nil is a no-op",
		entry:     spentEntry(t, base, 2),
		other:     nil,
		wantSpent: []bool{false, false, true, false},
		wantNum:   4,
	}, {
		name:      "merge adopts extra slots",
		entry:     spentEntry(t, testEntry(2, 7), 0),
		other:     spentEntry(t, base, 3),
		wantSpent: []bool{true, false, false, true},
		wantNum:   4,
	}}

	for _, test := range tests {
		test.entry.Merge(test.other)
		if got := test.entry.NumOutputs(); got != test.wantNum {
			t.Errorf("%s: unexpected number of outputs -- got %d, want %d",
				test.name, got, test.wantNum)
			continue
		}
		gotSpent := make([]bool, test.entry.NumOutputs())
		for i := range gotSpent {
			gotSpent[i] = test.entry.IsSpent(uint32(i))
		}
		if !reflect.DeepEqual(gotSpent, test.wantSpent) {
			t.Errorf("%s: mismatched spent outputs -- got %v, want %v",
				test.name, gotSpent, test.wantSpent)
			continue
		}

		// Merging the result again must not change it.
		again := test.entry.Clone()
		again.Merge(test.entry)
		if !reflect.DeepEqual(again, test.entry) {
			t.Errorf("%s: merge is not idempotent -- got %v, want %v",
				test.name, spew.Sdump(again), spew.Sdump(test.entry))
		}
	}
}

// TestCoinEntryClone ensures clones do not share mutable state.
func TestCoinEntryClone(t *testing.T) {
	t.Parallel()

	var nilEntry *CoinEntry
	if nilEntry.Clone() != nil {
		t.Fatal("clone of nil entry is not nil")
	}

	entry := testEntry(2, 3)
	clone := entry.Clone()
	if !reflect.DeepEqual(entry, clone) {
		t.Fatalf("mismatched clone -- got %v, want %v", spew.Sdump(clone),
			spew.Sdump(entry))
	}
	if err := clone.Spend(0); err != nil {
		t.Fatalf("unexpected spend error: %v", err)
	}
	if entry.IsSpent(0) {
		t.Fatal("spending a clone modified the original entry")
	}
}

// TestMergeEntries ensures the nil handling of the merge helper used by the
// buffering layers.
func TestMergeEntries(t *testing.T) {
	t.Parallel()

	entry := testEntry(2, 1)
	if got := mergeEntries(entry, nil); got != nil {
		t.Fatalf("deletion did not win: %v", spew.Sdump(got))
	}
	got := mergeEntries(nil, entry)
	if !reflect.DeepEqual(got, entry) || got == entry {
		t.Fatalf("unexpected merge into missing entry: %v", spew.Sdump(got))
	}
	spent := spentEntry(t, entry, 1)
	got = mergeEntries(spent, entry)
	if !got.IsSpent(1) || entry.IsSpent(1) {
		t.Fatalf("unexpected merge result: %v", spew.Sdump(got))
	}
}
