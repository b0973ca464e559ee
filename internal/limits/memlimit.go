// Copyright (c) 2022-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package limits sizes and applies the runtime soft memory limit.
package limits

import "runtime/debug"

const (
	// memLimitBase is the soft memory limit applied regardless of the cache
	// size.
	memLimitBase = 512 * (1 << 20)

	// bytesPerCacheEntry approximates the memory retained by one cached coin
	// entry including map and eviction bookkeeping.
	bytesPerCacheEntry = 512
)

// SoftMemoryLimit returns the soft memory limit in bytes.  A non-zero
// override, in MiB, takes precedence over the limit derived from the maximum
// number of cache entries.
func SoftMemoryLimit(overrideMiB uint64, cacheMaxItems int) int64 {
	if overrideMiB != 0 {
		return int64(overrideMiB) * (1 << 20)
	}
	limit := int64(memLimitBase)
	if cacheMaxItems > 0 {
		limit += int64(cacheMaxItems) * bytesPerCacheEntry
	}
	return limit
}

// SetMemoryLimit configures the runtime to use the provided limit as a soft
// memory limit and returns the previous limit.
func SetMemoryLimit(limit int64) int64 {
	return debug.SetMemoryLimit(limit)
}
