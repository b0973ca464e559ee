// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"bytes"
	"encoding/hex"
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// hexToBytes converts the passed hex string into bytes and will panic if there
// is an error.  This is only provided for the hard-coded constants so errors in
// the source code can be detected.  It will only (and must only) be called with
// hard-coded values.
func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("invalid hex in source file: " + s)
	}
	return b
}

// TestVLQ ensures the variable length quantity serialization, deserialization,
// and size calculation works as expected.
func TestVLQ(t *testing.T) {
	t.Parallel()

	tests := []struct {
		val        uint64
		serialized []byte
	}{
		{0, hexToBytes("00")},
		{1, hexToBytes("01")},
		{127, hexToBytes("7f")},
		{128, hexToBytes("8000")},
		{129, hexToBytes("8001")},
		{255, hexToBytes("807f")},
		{256, hexToBytes("8100")},
		{16511, hexToBytes("ff7f")},
		{16512, hexToBytes("808000")},
		{32895, hexToBytes("80ff7f")},
		{2113663, hexToBytes("ffff7f")},
		{2113664, hexToBytes("80808000")},
		{270549119, hexToBytes("ffffff7f")},
		{1<<32 - 1, hexToBytes("8efefefe7f")},
		{1<<64 - 1, hexToBytes("80fefefefefefefefe7f")},
	}

	for _, test := range tests {
		// Ensure the function to calculate the serialized size without
		// actually serializing the value is calculated properly.
		gotSize := serializeSizeVLQ(test.val)
		if gotSize != len(test.serialized) {
			t.Errorf("serializeSizeVLQ: did not get expected size for %d - "+
				"got %d, want %d", test.val, gotSize, len(test.serialized))
			continue
		}

		// Ensure the value serializes to the expected bytes.
		gotBytes := make([]byte, gotSize)
		gotBytesWritten := putVLQ(gotBytes, test.val)
		if !bytes.Equal(gotBytes, test.serialized) {
			t.Errorf("putVLQUnchecked: did not get expected bytes for %d - "+
				"got %x, want %x", test.val, gotBytes, test.serialized)
			continue
		}
		if gotBytesWritten != len(test.serialized) {
			t.Errorf("putVLQUnchecked: did not get expected number of bytes "+
				"written for %d - got %d, want %d", test.val,
				gotBytesWritten, len(test.serialized))
			continue
		}

		// Ensure the serialized bytes deserialize to the expected value.
		gotVal, gotBytesRead := deserializeVLQ(test.serialized)
		if gotVal != test.val {
			t.Errorf("deserializeVLQ: did not get expected value for %x - "+
				"got %d, want %d", test.serialized, gotVal, test.val)
			continue
		}
		if gotBytesRead != len(test.serialized) {
			t.Errorf("deserializeVLQ: did not get expected number of bytes "+
				"read for %d - got %d, want %d", test.serialized,
				gotBytesRead, len(test.serialized))
			continue
		}
	}
}

// TestAmountCompression ensures the domain-specific transaction output amount
// compression and decompression works as expected.
func TestAmountCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		uncompressed uint64
		compressed   uint64
	}{{
		name:         "0 DCR",
		uncompressed: 0,
		compressed:   0,
	}, {
		name:         "546 atoms",
		uncompressed: 546,
		compressed:   4911,
	}, {
		name:         "2 DCR",
		uncompressed: 200000000,
		compressed:   19,
	}, {
		name:         "50 DCR",
		uncompressed: 5000000000,
		compressed:   50,
	}, {
		name:         "21 million DCR",
		uncompressed: 2100000000000000,
		compressed:   21000000,
	}}

	for _, test := range tests {
		// Ensure the amount compresses to the expected value.
		gotCompressed := compressTxOutAmount(test.uncompressed)
		if gotCompressed != test.compressed {
			t.Errorf("compressTxOutAmount (%s): did not get expected value - "+
				"got %d, want %d", test.name, gotCompressed, test.compressed)
			continue
		}

		// Ensure the value decompresses to the expected value.
		gotDecompressed := decompressTxOutAmount(test.compressed)
		if gotDecompressed != test.uncompressed {
			t.Errorf("decompressTxOutAmount (%s): did not get expected "+
				"value - got %d, want %d", test.name, gotDecompressed,
				test.uncompressed)
			continue
		}
	}
}

// TestCoinEntrySerialization ensures serializing and deserializing coin
// entries works as expected, including the omission of spent outputs.
func TestCoinEntrySerialization(t *testing.T) {
	t.Parallel()

	coinbase := NewCoinEntry([]TxOut{{
		Value:    5000000000,
		Version:  0,
		PkScript: hexToBytes("76a914ee8bd501094a7d5ca318da2506de35e1cb025ddc88ac"),
	}}, 1, true)
	partial := NewCoinEntry([]TxOut{{
		Value:    1000,
		PkScript: hexToBytes("51"),
	}, {
		Value:    2000,
		Version:  1,
		PkScript: hexToBytes("52"),
	}}, 300, false)
	if err := partial.Spend(0); err != nil {
		t.Fatalf("unexpected spend error: %v", err)
	}

	tests := []struct {
		name       string
		entry      *CoinEntry
		serialized []byte
	}{{
		name:  "coinbase with one output",
		entry: coinbase,
		// height 1, flags 1, 1 output, bitmap 00, amount 50, version 0,
		// script length 25, script
		serialized: hexToBytes("0101010032001976a914ee8bd501094a7d5ca318da25" +
			"06de35e1cb025ddc88ac"),
	}, {
		name:  "first of two outputs spent",
		entry: partial,
		// height 300, flags 0, 2 outputs, bitmap 01, amount 2000 -> 0e,
		// version 1, script length 1, script
		serialized: hexToBytes("812c0002010e010152"),
	}}

	for _, test := range tests {
		gotBytes := serializeCoinEntry(test.entry)
		if !bytes.Equal(gotBytes, test.serialized) {
			t.Errorf("%s: mismatched bytes - got %x, want %x", test.name,
				gotBytes, test.serialized)
			continue
		}

		entry, err := deserializeCoinEntry(test.serialized)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}

		// Spent outputs are not serialized, so only compare what a reader
		// can observe.
		if entry.IsCoinBase() != test.entry.IsCoinBase() ||
			entry.BlockHeight() != test.entry.BlockHeight() ||
			entry.NumOutputs() != test.entry.NumOutputs() {
			t.Errorf("%s: mismatched entry - got %v, want %v", test.name,
				spew.Sdump(entry), spew.Sdump(test.entry))
			continue
		}
		for i := 0; i < entry.NumOutputs(); i++ {
			got, want := entry.Output(uint32(i)), test.entry.Output(uint32(i))
			if !reflect.DeepEqual(got, want) {
				t.Errorf("%s: mismatched output %d - got %v, want %v",
					test.name, i, spew.Sdump(got), spew.Sdump(want))
			}
		}
	}

	// Pruned entries have no serialization.
	pruned := spentEntry(t, testEntry(1, 1), 0)
	if got := serializeCoinEntry(pruned); got != nil {
		t.Fatalf("pruned entry serialized to %x", got)
	}
}

// TestCoinEntryDeserializeErrors ensures deserializing malformed entries
// returns the expected error type.
func TestCoinEntryDeserializeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		serialized []byte
	}{{
		name:       "no data after height",
		serialized: hexToBytes("01"),
	}, {
		name:       "no data after flags",
		serialized: hexToBytes("0100"),
	}, {
		name:       "truncated bitmap",
		serialized: hexToBytes("01000a"),
	}, {
		name:       "missing unspent output",
		serialized: hexToBytes("01000100"),
	}, {
		name:       "truncated script",
		serialized: hexToBytes("0100010032000552"),
	}, {
		name:       "script version above 16 bits",
		serialized: hexToBytes("010001003282ff000151"),
	}, {
		name:       "block height above 32 bits",
		serialized: hexToBytes("8efefeff0000010032000151"),
	}}

	for _, test := range tests {
		_, err := deserializeCoinEntry(test.serialized)
		if !errors.Is(err, errDeserialize("")) {
			t.Errorf("%s: did not receive expected error type - got %T (%v)",
				test.name, err, err)
		}
		if !isDeserializeErr(err) {
			t.Errorf("%s: error not recognized as deserialize error",
				test.name)
		}
	}
}

// TestCoinSetStateSerialization ensures the tip round trips and malformed
// states are rejected.
func TestCoinSetStateSerialization(t *testing.T) {
	t.Parallel()

	tip := testTip(123456)
	got, err := deserializeCoinSetState(serializeCoinSetState(&tip))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(*got, tip) {
		t.Fatalf("mismatched tip - got %v, want %v", spew.Sdump(got),
			spew.Sdump(tip))
	}

	if _, err := deserializeCoinSetState(hexToBytes("00")); !isDeserializeErr(err) {
		t.Fatalf("unexpected error for short state: %v", err)
	}
}
