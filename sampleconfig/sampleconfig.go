// Copyright (c) 2017-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

import (
	_ "embed"
)

// sampleCoinReplayConf is a string containing the commented example config
// for coinreplay.
//
//go:embed sample-coinreplay.conf
var sampleCoinReplayConf string

// CoinReplay returns a string containing the commented example config for
// coinreplay.
func CoinReplay() string {
	return sampleCoinReplayConf
}
