// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/jrick/bitset"
)

// errDeserialize signifies that a problem was encountered when deserializing
// data.
type errDeserialize string

// Error implements the error interface.
func (e errDeserialize) Error() string {
	return string(e)
}

// Is implements the interface to work with the standard library's errors.Is.
//
// It returns true in the following cases:
// - The target is errDeserialize
func (e errDeserialize) Is(target error) bool {
	_, ok := target.(errDeserialize)
	return ok
}

// isDeserializeErr returns whether or not the passed error is an errDeserialize
// error.
func isDeserializeErr(err error) bool {
	_, ok := err.(errDeserialize)
	return ok
}

// -----------------------------------------------------------------------------
// A variable length quantity (VLQ) is an encoding that uses an arbitrary number
// of binary octets to represent an arbitrarily large integer.  The scheme
// employs a most significant byte (MSB) base-128 encoding where the high bit in
// each byte indicates whether or not the byte is the final one.  In addition,
// to ensure there are no redundant encodings, an offset is subtracted every
// time a group of 7 bits is shifted out.  Therefore each integer can be
// represented in exactly one way, and each representation stands for exactly
// one integer.
//
// Example encodings:
//           0 -> [0x00]
//         127 -> [0x7f]                 * Max 1-byte value
//         128 -> [0x80 0x00]
//       16511 -> [0xff 0x7f]            * Max 2-byte value
//       16512 -> [0x80 0x80 0x00]
//     2113663 -> [0xff 0xff 0x7f]       * Max 3-byte value
//      2^64-1 -> [0x80 0xfe 0xfe 0xfe 0xfe 0xfe 0xfe 0xfe 0xfe 0x7f]
// -----------------------------------------------------------------------------

// serializeSizeVLQ returns the number of bytes it would take to serialize the
// passed number as a variable-length quantity according to the format
// described above.
func serializeSizeVLQ(n uint64) int {
	size := 1
	for ; n > 0x7f; n = (n >> 7) - 1 {
		size++
	}

	return size
}

// putVLQ serializes the provided number to a variable-length quantity according
// to the format described above and returns the number of bytes of the encoded
// value.  The result is placed directly into the passed byte slice which must
// be at least large enough to handle the number of bytes returned by the
// serializeSizeVLQ function or it will panic.
func putVLQ(target []byte, n uint64) int {
	offset := 0
	for ; ; offset++ {
		// The high bit is set when another byte follows.
		highBitMask := byte(0x80)
		if offset == 0 {
			highBitMask = 0x00
		}

		target[offset] = byte(n&0x7f) | highBitMask
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
	}

	// Reverse the bytes so it is MSB-encoded.
	for i, j := 0, offset; i < j; i, j = i+1, j-1 {
		target[i], target[j] = target[j], target[i]
	}

	return offset + 1
}

// deserializeVLQ deserializes the provided variable-length quantity according
// to the format described above.  It also returns the number of bytes
// deserialized.
func deserializeVLQ(serialized []byte) (uint64, int) {
	var n uint64
	var size int
	for _, val := range serialized {
		size++
		n = (n << 7) | uint64(val&0x7f)
		if val&0x80 != 0x80 {
			break
		}
		n++
	}

	return n, size
}

// -----------------------------------------------------------------------------
// Output amounts are compressed by removing trailing zeros in base 10 since
// most amounts are round numbers.  The exponent (at most 9) is folded into the
// result so it can be recovered:
//
//   - 0 is encoded as 0
//   - exponent e < 9, last nonzero digit d, remaining n:
//     1 + 10*(9*n + d - 1) + e
//   - exponent 9, remaining n: 1 + 10*(n - 1) + 9
// -----------------------------------------------------------------------------

// compressTxOutAmount compresses the passed amount according to the domain
// specific compression algorithm described above.
func compressTxOutAmount(amount uint64) uint64 {
	// No need to do any work if it's zero.
	if amount == 0 {
		return 0
	}

	// Find the largest power of 10 (max of 9) that evenly divides the
	// value.
	exponent := uint64(0)
	for amount%10 == 0 && exponent < 9 {
		amount /= 10
		exponent++
	}

	// The compressed result for exponents less than 9 is:
	// 1 + 10*(9*n + d-1) + e
	if exponent < 9 {
		lastDigit := amount % 10
		amount /= 10
		return 1 + 10*(9*amount+lastDigit-1) + exponent
	}

	// The compressed result for an exponent of 9 is:
	// 1 + 10*(n-1) + e   ==   10 + 10*(n-1)
	return 10 + 10*(amount-1)
}

// decompressTxOutAmount returns the original amount the passed compressed
// amount represents according to the domain specific compression algorithm
// described above.
func decompressTxOutAmount(amount uint64) uint64 {
	// No need to do any work if it's zero.
	if amount == 0 {
		return 0
	}

	// The decompressed amount is either of the following two equations:
	// x = 1 + 10*(9*n + d - 1) + e
	// x = 1 + 10*(n - 1)       + 9
	amount--

	// The decompressed amount is now one of the following two equations:
	// x = 10*(9*n + d - 1) + e
	// x = 10*(n - 1)       + 9
	exponent := amount % 10
	amount /= 10

	// The decompressed amount is now one of the following two equations:
	// x = 9*n + d - 1  | where e < 9
	// x = n - 1        | where e = 9
	n := uint64(0)
	if exponent < 9 {
		lastDigit := amount%9 + 1
		amount /= 9
		n = amount*10 + lastDigit
	} else {
		n = amount + 1
	}

	// Apply the exponent.
	for ; exponent > 0; exponent-- {
		n *= 10
	}

	return n
}

// -----------------------------------------------------------------------------
// The coin set consists of an entry for each transaction that still has at
// least one unspent output.  Entries are keyed by the transaction hash under
// the coin set key prefix:
//
//   <prefix><hash>
//
// The serialized value format is:
//
//   <block height><flags><num outputs><spent bitmap><unspent outputs>
//
//   Field                Type     Size
//   block height         VLQ      variable
//   flags                VLQ      variable
//   num outputs          VLQ      variable
//   spent bitmap         []byte   (num outputs + 7) / 8
//   unspent outputs      one per clear bit in the spent bitmap
//     compressed amount  VLQ      variable
//     script version     VLQ      variable
//     script length      VLQ      variable
//     script             []byte   variable
//
// The serialized flags format is:
//   bit  0     - containing transaction is a coinbase
//   bits 1-7   - unused
//
// Spent outputs are not serialized beyond their bit in the bitmap.
// -----------------------------------------------------------------------------

// coinFlagCoinBase indicates the entry was created by a coinbase transaction.
const coinFlagCoinBase = 1 << 0

// bitmapSize returns the number of bytes needed to hold n bits.
func bitmapSize(n int) int {
	return (n + 7) / 8
}

// serializeSizeCoinEntry returns the number of bytes serializing the entry
// requires.
func serializeSizeCoinEntry(entry *CoinEntry) int {
	numOutputs := len(entry.outputs)
	size := serializeSizeVLQ(uint64(entry.height)) + serializeSizeVLQ(0) +
		serializeSizeVLQ(uint64(numOutputs)) + bitmapSize(numOutputs)
	for i := range entry.outputs {
		if entry.spent.Get(i) {
			continue
		}
		out := &entry.outputs[i]
		scriptLen := uint64(len(out.PkScript))
		size += serializeSizeVLQ(compressTxOutAmount(uint64(out.Value))) +
			serializeSizeVLQ(uint64(out.Version)) +
			serializeSizeVLQ(scriptLen) + len(out.PkScript)
	}
	return size
}

// serializeCoinEntry returns the entry serialized to a format that is suitable
// for long-term storage.  The format is described in detail above.  Pruned
// entries have no serialization and nil is returned for them.
func serializeCoinEntry(entry *CoinEntry) []byte {
	if entry == nil || entry.IsPruned() {
		return nil
	}

	var flags uint64
	if entry.coinBase {
		flags |= coinFlagCoinBase
	}

	numOutputs := len(entry.outputs)
	serialized := make([]byte, serializeSizeCoinEntry(entry))
	offset := putVLQ(serialized, uint64(entry.height))
	offset += putVLQ(serialized[offset:], flags)
	offset += putVLQ(serialized[offset:], uint64(numOutputs))
	offset += copy(serialized[offset:], entry.spent[:bitmapSize(numOutputs)])
	for i := range entry.outputs {
		if entry.spent.Get(i) {
			continue
		}
		out := &entry.outputs[i]
		offset += putVLQ(serialized[offset:],
			compressTxOutAmount(uint64(out.Value)))
		offset += putVLQ(serialized[offset:], uint64(out.Version))
		offset += putVLQ(serialized[offset:], uint64(len(out.PkScript)))
		offset += copy(serialized[offset:], out.PkScript)
	}

	return serialized
}

// deserializeCoinEntry decodes a coin entry from the passed serialized byte
// slice into a new CoinEntry using a format that is suitable for long-term
// storage.  The format is described in detail above.
func deserializeCoinEntry(serialized []byte) (*CoinEntry, error) {
	// Deserialize the block height.
	blockHeight, bytesRead := deserializeVLQ(serialized)
	offset := bytesRead
	if blockHeight > math.MaxUint32 {
		str := fmt.Sprintf("block height %d exceeds the maximum allowed "+
			"height", blockHeight)
		return nil, errDeserialize(str)
	}
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after height")
	}

	// Deserialize the flags.
	flags, bytesRead := deserializeVLQ(serialized[offset:])
	offset += bytesRead
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after flags")
	}

	// Deserialize the number of outputs and the spent bitmap.
	numOutputs, bytesRead := deserializeVLQ(serialized[offset:])
	offset += bytesRead
	if numOutputs > uint64(len(serialized))*8 {
		return nil, errDeserialize("number of outputs exceeds the data")
	}
	n := int(numOutputs)
	if offset+bitmapSize(n) > len(serialized) {
		return nil, errDeserialize("unexpected end of data in spent bitmap")
	}
	spent := bitset.NewBytes(n)
	copy(spent, serialized[offset:offset+bitmapSize(n)])
	offset += bitmapSize(n)

	// Deserialize the unspent outputs.
	outputs := make([]TxOut, n)
	for i := 0; i < n; i++ {
		if spent.Get(i) {
			continue
		}
		if offset >= len(serialized) {
			return nil, errDeserialize("unexpected end of data before output")
		}

		amount, bytesRead := deserializeVLQ(serialized[offset:])
		offset += bytesRead
		if offset >= len(serialized) {
			return nil, errDeserialize("unexpected end of data after amount")
		}
		version, bytesRead := deserializeVLQ(serialized[offset:])
		offset += bytesRead
		if version > math.MaxUint16 {
			str := fmt.Sprintf("script version %d for output %d exceeds the "+
				"maximum allowed version", version, i)
			return nil, errDeserialize(str)
		}
		if offset >= len(serialized) {
			return nil, errDeserialize("unexpected end of data after script " +
				"version")
		}
		scriptLen, bytesRead := deserializeVLQ(serialized[offset:])
		offset += bytesRead
		if uint64(len(serialized)-offset) < scriptLen {
			return nil, errDeserialize("unexpected end of data in script")
		}
		end := offset + int(scriptLen)
		script := make([]byte, scriptLen)
		copy(script, serialized[offset:end])
		offset = end

		outputs[i] = TxOut{
			Value:    int64(decompressTxOutAmount(amount)),
			Version:  uint16(version),
			PkScript: script,
		}
	}

	return &CoinEntry{
		outputs:  outputs,
		spent:    spent,
		height:   uint32(blockHeight),
		coinBase: flags&coinFlagCoinBase == coinFlagCoinBase,
	}, nil
}

// -----------------------------------------------------------------------------
// The coin set state is the tip the stored coin set reflects.  It is stored
// under a single key and is updated in the same transaction as the entries so
// that both are always in sync.
//
// The serialized format is:
//
//   <block hash><block height><prev hash>
//
//   Field          Type             Size
//   block hash     chainhash.Hash   chainhash.HashSize
//   block height   uint32           4 bytes (little endian)
//   prev hash      chainhash.Hash   chainhash.HashSize
// -----------------------------------------------------------------------------

// coinSetStateSize is the size of a serialized coin set state.
const coinSetStateSize = chainhash.HashSize*2 + 4

// serializeCoinSetState serializes the provided tip.
func serializeCoinSetState(tip *ChainPosition) []byte {
	serialized := make([]byte, coinSetStateSize)
	copy(serialized, tip.Hash[:])
	binary.LittleEndian.PutUint32(serialized[chainhash.HashSize:], tip.Height)
	copy(serialized[chainhash.HashSize+4:], tip.PrevHash[:])
	return serialized
}

// deserializeCoinSetState deserializes the passed serialized tip.
func deserializeCoinSetState(serialized []byte) (*ChainPosition, error) {
	if len(serialized) != coinSetStateSize {
		return nil, errDeserialize("unexpected length for serialized coin " +
			"set state")
	}

	var tip ChainPosition
	copy(tip.Hash[:], serialized[:chainhash.HashSize])
	tip.Height = binary.LittleEndian.Uint32(serialized[chainhash.HashSize:])
	copy(tip.PrevHash[:], serialized[chainhash.HashSize+4:])
	return &tip, nil
}
