// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ------------------------------------------
	// Errors related to constructing coin views.
	// ------------------------------------------

	// ErrMissingInnerView indicates a layered coin view was constructed
	// without the view it wraps.
	ErrMissingInnerView = ErrorKind("ErrMissingInnerView")

	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")

	// ------------------------------------------
	// Errors related to coin set consistency.
	// ------------------------------------------

	// ErrMissingCoin indicates an attempt to spend an output of a transaction
	// that does not exist in the coin set or an output index that the
	// transaction does not have.
	ErrMissingCoin = ErrorKind("ErrMissingCoin")

	// ErrCoinAlreadySpent indicates an attempt to spend an output that has
	// already been spent.
	ErrCoinAlreadySpent = ErrorKind("ErrCoinAlreadySpent")

	// ErrDuplicateTx indicates a block attempted to create coins for a
	// transaction that already has unspent outputs in the coin set.
	ErrDuplicateTx = ErrorKind("ErrDuplicateTx")

	// ErrTipRegression indicates an attempt to save changes for a chain tip
	// that is lower than the tip a store already holds.
	ErrTipRegression = ErrorKind("ErrTipRegression")

	// ErrNotPrefetched indicates a spend-only snapshot was asked for an id it
	// was not loaded with.
	ErrNotPrefetched = ErrorKind("ErrNotPrefetched")

	// ErrMismatchedChanges indicates a change set where the number of ids
	// and entries differ.
	ErrMismatchedChanges = ErrorKind("ErrMismatchedChanges")

	// ------------------------------------------
	// Errors related to the durable store.
	// ------------------------------------------

	// ErrBackend indicates that a general error was encountered when
	// accessing the durable store.
	ErrBackend = ErrorKind("ErrBackend")

	// ErrBackendCorruption indicates that underlying data being accessed is
	// corrupt.
	ErrBackendCorruption = ErrorKind("ErrBackendCorruption")

	// ErrBackendNotOpen indicates that the database was accessed after it
	// was closed.
	ErrBackendNotOpen = ErrorKind("ErrBackendNotOpen")

	// ErrBackendTxClosed indicates an attempt was made to use a snapshot or
	// transaction that has already been released.
	ErrBackendTxClosed = ErrorKind("ErrBackendTxClosed")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// ContextError wraps an error with additional context.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific wrapped
// error.
//
// RawErr contains the original error in the case where an error has been
// converted.
type ContextError struct {
	Err         error
	Description string
	RawErr      error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ContextError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e ContextError) Unwrap() error {
	return e.Err
}

// contextError creates a ContextError given a set of arguments.
func contextError(kind ErrorKind, desc string) ContextError {
	return ContextError{Err: kind, Description: desc}
}

// missingCoinError creates a ContextError with the kind of error set to
// ErrMissingCoin and a description that names the referenced output.
func missingCoinError(hash *chainhash.Hash, index uint32) ContextError {
	str := fmt.Sprintf("output %v:%d does not exist or has been pruned",
		hash, index)
	return contextError(ErrMissingCoin, str)
}
